package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"lucid-rpc/message"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

// 旧式签名：Method(args *Args, reply *Reply) error
func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// 新式签名：Method(ctx, *Args) (Reply, error)
func (a *Arith) Mul(ctx context.Context, args *Args) (int, error) {
	return args.A * args.B, nil
}

func (a *Arith) Fail(ctx context.Context, args *Args) (int, error) {
	return 0, message.NewError(message.CodeUnauthorized, "no token", map[string]any{"realm": "arith"})
}

// 不符合签名的方法会被忽略
func (a *Arith) Ignored(x int) int { return x }

func request(id int64, method string, params message.Params) *message.Request {
	return &message.Request{ID: message.IntID(id), Method: method, Params: params}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRouter()
	noop := func(ctx context.Context, p message.Params) (any, error) { return "first", nil }
	if err := r.RegisterFunc("add", noop); err != nil {
		t.Fatal(err)
	}
	err := r.RegisterFunc("add", func(ctx context.Context, p message.Params) (any, error) { return "second", nil })
	if !errors.Is(err, ErrDuplicateMethod) {
		t.Fatalf("expect ErrDuplicateMethod, got %v", err)
	}

	resp := r.Handle(context.Background(), request(1, "add", message.Params{}))
	if resp.Result != "first" {
		t.Fatalf("first registration must win, got %v", resp.Result)
	}

	if err := r.Register("", HandlerFunc(noop)); err == nil {
		t.Fatal("expect error for empty method name")
	}
	if err := r.Register("x", nil); err == nil {
		t.Fatal("expect error for nil handler")
	}
}

func TestRegisterService(t *testing.T) {
	r := NewRouter()
	if err := r.RegisterService("", &Arith{}); err != nil {
		t.Fatal(err)
	}
	want := []string{"Arith.Add", "Arith.Fail", "Arith.Mul"}
	if got := r.Methods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("methods: got %v, want %v", got, want)
	}

	resp := r.Handle(context.Background(), request(1, "Arith.Add", message.Positional(2, 3)))
	if !resp.OK || resp.Result.(*Reply).Result != 5 {
		t.Fatalf("Arith.Add: %+v", resp)
	}

	resp = r.Handle(context.Background(), request(2, "Arith.Mul", message.NewParams(map[string]any{"A": 4, "B": 5})))
	if !resp.OK || resp.Result != 20 {
		t.Fatalf("Arith.Mul: %+v", resp)
	}

	if err := r.RegisterService("Arith", &Arith{}); !errors.Is(err, ErrDuplicateMethod) {
		t.Fatalf("expect ErrDuplicateMethod on second RegisterService, got %v", err)
	}
	if err := r.RegisterService("x", Arith{}); err == nil {
		t.Fatal("expect error for non-pointer receiver")
	}
}

func TestHandleMethodNotFound(t *testing.T) {
	r := NewRouter()
	resp := r.Handle(context.Background(), request(3, "subtract", message.Positional(5, 1)))

	want := message.NewFailure(message.IntID(3), message.NewError(message.CodeMethodNotFound,
		"Method not found: subtract", map[string]any{"method": "subtract"}))
	if !reflect.DeepEqual(resp, want) {
		t.Fatalf("got %+v, want %+v", resp, want)
	}
}

func TestHandleErrors(t *testing.T) {
	r := NewRouter()
	r.RegisterFunc("divide", func(ctx context.Context, p message.Params) (any, error) {
		return nil, errors.New("division by zero")
	})
	r.RegisterFunc("wrapped", func(ctx context.Context, p message.Params) (any, error) {
		return nil, fmt.Errorf("lookup: %w", message.Errorf(message.CodeUnauthorized, "denied"))
	})
	r.RegisterFunc("panics", func(ctx context.Context, p message.Params) (any, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	})
	r.RegisterService("", &Arith{})

	cases := []struct {
		method string
		code   message.Code
		msg    string
	}{
		{"divide", message.CodeInternal, "division by zero"},
		{"wrapped", message.CodeUnauthorized, "denied"},
		{"panics", message.CodeInternal, "panic: assignment to entry in nil map"},
		{"Arith.Fail", message.CodeUnauthorized, "no token"},
	}
	for _, tc := range cases {
		resp := r.Handle(context.Background(), request(2, tc.method, message.Params{}))
		if resp.OK || resp.Result != nil {
			t.Fatalf("%s: expect failure, got %+v", tc.method, resp)
		}
		if resp.Error.Code != tc.code || resp.Error.Message != tc.msg {
			t.Errorf("%s: got %s %q, want %s %q", tc.method, resp.Error.Code, resp.Error.Message, tc.code, tc.msg)
		}
		if !resp.Valid() {
			t.Errorf("%s: invalid response", tc.method)
		}
	}

	// INTERNAL from a plain error carries no details
	resp := r.Handle(context.Background(), request(2, "divide", message.Params{}))
	if len(resp.Error.Details) != 0 {
		t.Fatalf("expect empty details, got %v", resp.Error.Details)
	}
}

func TestHandleBadParams(t *testing.T) {
	r := NewRouter()
	r.RegisterService("", &Arith{})

	resp := r.Handle(context.Background(), request(1, "Arith.Add", message.Positional(1, 2, 3)))
	if resp.OK || resp.Error.Code != message.CodeBadRequest {
		t.Fatalf("expect BAD_REQUEST for too many arguments, got %+v", resp)
	}
}

func TestRouterConcurrentHandle(t *testing.T) {
	r := NewRouter()
	r.RegisterService("", &Arith{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := r.Handle(context.Background(), request(int64(i), "Arith.Mul", message.Positional(i, 2)))
			if !resp.OK || resp.Result != i*2 || resp.ID != message.IntID(int64(i)) {
				t.Errorf("request %d: %+v", i, resp)
			}
		}(i)
	}
	wg.Wait()
}
