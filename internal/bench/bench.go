// Package bench runs a fixed number of calls from concurrent workers and
// summarizes their latencies.
package bench

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Call performs one request. Worker is the 0-based worker index.
type Call func(ctx context.Context, worker int) error

// Config describes a run: Workers goroutines each issuing PerWorker calls.
type Config struct {
	Workers   int
	PerWorker int
}

// Report is the outcome of a run. Latencies cover successful calls only.
type Report struct {
	Total       int
	Success     int
	Failed      int
	Elapsed     time.Duration
	Latencies   []time.Duration // sorted ascending
	SampleError error
}

// Run executes cfg against call. It only returns early when ctx is cancelled;
// individual call failures are counted, not returned.
func Run(ctx context.Context, cfg Config, call Call) (*Report, error) {
	var (
		mu     sync.Mutex
		report = &Report{Total: cfg.Workers * cfg.PerWorker}
	)

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			latencies := make([]time.Duration, 0, cfg.PerWorker)
			var failed int
			var firstErr error
			for i := 0; i < cfg.PerWorker; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				if err := call(ctx, w); err != nil {
					failed++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				latencies = append(latencies, time.Since(t0))
			}

			mu.Lock()
			report.Latencies = append(report.Latencies, latencies...)
			report.Failed += failed
			if report.SampleError == nil {
				report.SampleError = firstErr
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	report.Elapsed = time.Since(start)
	if err != nil {
		return nil, err
	}

	sort.Slice(report.Latencies, func(i, j int) bool { return report.Latencies[i] < report.Latencies[j] })
	report.Success = len(report.Latencies)
	return report, nil
}

// RPS is successful calls per second of wall time.
func (r *Report) RPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Success) / r.Elapsed.Seconds()
}

// Percentile returns the latency at index int((n-1)*p) of the sorted
// successful latencies, or 0 when there are none.
func (r *Report) Percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	return r.Latencies[int(float64(len(r.Latencies)-1)*p)]
}

// Print writes the report as key=value lines.
func (r *Report) Print(w io.Writer) {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	fmt.Fprintf(w, "total_requests=%d\n", r.Total)
	fmt.Fprintf(w, "success=%d\n", r.Success)
	fmt.Fprintf(w, "failed=%d\n", r.Failed)
	fmt.Fprintf(w, "elapsed_sec=%.3f\n", r.Elapsed.Seconds())
	fmt.Fprintf(w, "rps=%.2f\n", r.RPS())
	fmt.Fprintf(w, "p50_ms=%.2f\n", ms(r.Percentile(0.50)))
	fmt.Fprintf(w, "p95_ms=%.2f\n", ms(r.Percentile(0.95)))
	fmt.Fprintf(w, "p99_ms=%.2f\n", ms(r.Percentile(0.99)))
	if r.SampleError != nil {
		fmt.Fprintf(w, "sample_error=%v\n", r.SampleError)
	}
}
