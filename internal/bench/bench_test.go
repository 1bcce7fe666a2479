package bench

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunCountsOutcomes(t *testing.T) {
	var calls atomic.Int64
	report, err := Run(context.Background(), Config{Workers: 4, PerWorker: 25}, func(ctx context.Context, worker int) error {
		// 每 10 次失败一次
		if calls.Add(1)%10 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 100 || report.Success != 90 || report.Failed != 10 {
		t.Fatalf("total/success/failed = %d/%d/%d", report.Total, report.Success, report.Failed)
	}
	if report.SampleError == nil || report.SampleError.Error() != "boom" {
		t.Fatalf("sample error: %v", report.SampleError)
	}
	for i := 1; i < len(report.Latencies); i++ {
		if report.Latencies[i] < report.Latencies[i-1] {
			t.Fatal("latencies must be sorted")
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Run(ctx, Config{Workers: 2, PerWorker: 1000}, func(ctx context.Context, worker int) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

func TestPercentile(t *testing.T) {
	r := &Report{}
	if r.Percentile(0.5) != 0 {
		t.Fatal("empty report must give 0")
	}
	for i := 1; i <= 10; i++ {
		r.Latencies = append(r.Latencies, time.Duration(i)*time.Millisecond)
	}
	// idx = int((n-1)*p)
	cases := map[float64]time.Duration{0.50: 5, 0.95: 9, 0.99: 9, 1: 10}
	for p, want := range cases {
		if got := r.Percentile(p); got != want*time.Millisecond {
			t.Errorf("p%.0f: got %v, want %v", p*100, got, want*time.Millisecond)
		}
	}
}

func TestPrint(t *testing.T) {
	r := &Report{Total: 2, Success: 2, Elapsed: time.Second, Latencies: []time.Duration{time.Millisecond, 3 * time.Millisecond}}
	var buf bytes.Buffer
	r.Print(&buf)
	out := buf.String()
	for _, line := range []string{"total_requests=2", "success=2", "failed=0", "elapsed_sec=1.000", "rps=2.00", "p50_ms=1.00", "p99_ms=1.00"} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
	if strings.Contains(out, "sample_error") {
		t.Error("no sample_error line without errors")
	}
}
