// Package demo holds the handlers served by cmd/lucid-server: arithmetic for
// smoke tests and the bench.* handlers used by cmd/lucid-bench.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"lucid-rpc/message"
	"lucid-rpc/server"
)

// ErrDivisionByZero is returned by divide when the divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

// Register adds "add", "divide" and the Arith service to r.
func Register(r *server.Router) error {
	return multierr.Combine(
		r.RegisterFunc("add", Add),
		r.RegisterFunc("divide", Divide),
		r.RegisterService("Arith", &Arith{}),
	)
}

// RegisterBench adds the bench.io, bench.cpu and bench.mixed handlers to r.
func RegisterBench(r *server.Router) error {
	return multierr.Combine(
		r.RegisterFunc("bench.io", BenchIO),
		r.RegisterFunc("bench.cpu", BenchCPU),
		r.RegisterFunc("bench.mixed", BenchMixed),
	)
}

// Add sums two numbers. Integers stay integers; anything else is added as float.
func Add(ctx context.Context, params message.Params) (any, error) {
	a, b, err := twoNumbers(params)
	if err != nil {
		return nil, err
	}
	x, errX := a.Int64()
	y, errY := b.Int64()
	if errX == nil && errY == nil {
		return x + y, nil
	}
	fx, _ := a.Float64()
	fy, _ := b.Float64()
	return fx + fy, nil
}

// Divide returns a / b.
func Divide(ctx context.Context, params message.Params) (any, error) {
	a, b, err := twoNumbers(params)
	if err != nil {
		return nil, err
	}
	fa, _ := a.Float64()
	fb, _ := b.Float64()
	if fb == 0 {
		return nil, ErrDivisionByZero
	}
	return fa / fb, nil
}

// twoNumbers accepts [a, b] or {"a": a, "b": b}.
func twoNumbers(params message.Params) (json.Number, json.Number, error) {
	var args struct {
		A json.Number `json:"a"`
		B json.Number `json:"b"`
	}
	if params.Kind() == message.ParamsPositional && params.Len() != 2 {
		return "", "", message.Errorf(message.CodeBadRequest, "expected 2 arguments, got %d", params.Len())
	}
	if err := params.Bind(&args); err != nil {
		return "", "", message.NewError(message.CodeBadRequest, err.Error(), map[string]any{"field": "params"})
	}
	if args.A == "" || args.B == "" {
		return "", "", message.Errorf(message.CodeBadRequest, "two numeric arguments are required")
	}
	return args.A, args.B, nil
}

// Arith is the same arithmetic as a reflected service: "Arith.Multiply", "Arith.Sub".
type Arith struct{}

type ArithArgs struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

func (*Arith) Multiply(ctx context.Context, args *ArithArgs) (int64, error) {
	return args.A * args.B, nil
}

func (*Arith) Sub(ctx context.Context, args *ArithArgs) (int64, error) {
	return args.A - args.B, nil
}

type ioArgs struct {
	DelayMS int64 `json:"delay_ms"`
}

type cpuArgs struct {
	N int `json:"n"`
}

type mixedArgs struct {
	DelayMS int64 `json:"delay_ms"`
	N       int   `json:"n"`
}

// BenchIO sleeps delay_ms (default 10) and reports it.
func BenchIO(ctx context.Context, params message.Params) (any, error) {
	args := ioArgs{DelayMS: 10}
	if err := params.Bind(&args); err != nil {
		return nil, message.Errorf(message.CodeBadRequest, "%v", err)
	}
	if err := sleep(ctx, time.Duration(max(args.DelayMS, 0))*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{"kind": "io", "delay_ms": args.DelayMS}, nil
}

// BenchCPU computes fib(n) (default 26) the slow way.
func BenchCPU(ctx context.Context, params message.Params) (any, error) {
	args := cpuArgs{N: 26}
	if err := params.Bind(&args); err != nil {
		return nil, message.Errorf(message.CodeBadRequest, "%v", err)
	}
	if args.N > 40 {
		return nil, message.NewError(message.CodeBadRequest, fmt.Sprintf("n=%d is too large", args.N), map[string]any{"max": 40})
	}
	return map[string]any{"kind": "cpu", "n": args.N, "fib": fib(max(args.N, 0))}, nil
}

// BenchMixed sleeps delay_ms (default 5) then computes fib(n) (default 20).
func BenchMixed(ctx context.Context, params message.Params) (any, error) {
	args := mixedArgs{DelayMS: 5, N: 20}
	if err := params.Bind(&args); err != nil {
		return nil, message.Errorf(message.CodeBadRequest, "%v", err)
	}
	io, err := BenchIO(ctx, message.NewParams(map[string]any{"delay_ms": args.DelayMS}))
	if err != nil {
		return nil, err
	}
	cpu, err := BenchCPU(ctx, message.NewParams(map[string]any{"n": args.N}))
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": "mixed", "io": io, "cpu": cpu}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fib(n int) int {
	if n <= 1 {
		return n
	}
	return fib(n-1) + fib(n-2)
}
