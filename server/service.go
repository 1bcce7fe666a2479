package server

import (
	"context"
	"fmt"
	"reflect"

	"lucid-rpc/message"
)

type methodKind uint8

const (
	// Method(ctx context.Context, args *Args) (Reply, error)
	kindContext methodKind = iota
	// Method(args *Args, reply *Reply) error
	kindReplyPointer
)

type methodType struct {
	method    reflect.Method
	kind      methodKind
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	methods map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newService 创建 service 并扫描所有合法方法
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	// 默认用类型名作为 service name
	if name == "" {
		name = typ.Elem().Name()
	}

	svc := &service{
		name:    name,
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		methods: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.methods) == 0 {
		return nil, fmt.Errorf("server: type %s has no exported methods of a suitable shape", typ)
	}
	return svc, nil
}

// registerMethods 扫描 struct 的导出方法，过滤出符合签名的
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type

		switch {
		// (receiver, ctx, *Args) (Reply, error)
		case mt.NumIn() == 3 && mt.NumOut() == 2 && mt.In(1) == contextType &&
			mt.In(2).Kind() == reflect.Pointer && mt.Out(1) == errorType:
			s.methods[method.Name] = &methodType{
				method:    method,
				kind:      kindContext,
				ArgType:   mt.In(2).Elem(),
				ReplyType: mt.Out(0),
			}
		// (receiver, *Args, *Reply) error
		case mt.NumIn() == 3 && mt.NumOut() == 1 && mt.Out(0) == errorType &&
			mt.In(1).Kind() == reflect.Pointer && mt.In(2).Kind() == reflect.Pointer:
			s.methods[method.Name] = &methodType{
				method:    method,
				kind:      kindReplyPointer,
				ArgType:   mt.In(1).Elem(),
				ReplyType: mt.In(2).Elem(),
			}
		}
	}
}

// call 通过反射调用方法
func (s *service) call(ctx context.Context, mt *methodType, params message.Params) (any, error) {
	argv := reflect.New(mt.ArgType)
	if err := params.Bind(argv.Interface()); err != nil {
		return nil, message.NewError(message.CodeBadRequest, err.Error(), map[string]any{"field": "params"})
	}

	switch mt.kind {
	case kindContext:
		results := mt.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv})
		if err := results[1].Interface(); err != nil {
			return nil, err.(error)
		}
		return results[0].Interface(), nil
	default:
		replyv := reflect.New(mt.ReplyType)
		results := mt.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
		if err := results[0].Interface(); err != nil {
			return nil, err.(error)
		}
		return replyv.Interface(), nil
	}
}

// serviceMethod exposes one reflected method as a Handler.
type serviceMethod struct {
	svc *service
	mt  *methodType
}

func (m *serviceMethod) ServeRPC(ctx context.Context, params message.Params) (any, error) {
	return m.svc.call(ctx, m.mt, params)
}
