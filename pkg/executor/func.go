package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	resultType  = reflect.TypeOf(core.ExecutionResult(""))
)

// FuncExecutor adapts a plain function to the Executor interface.
type FuncExecutor struct {
	name       string
	kind       core.OperationKind
	fn         reflect.Value
	argsType   reflect.Type
	hasContext bool
	hasResult  bool
}

var _ Executor = (*FuncExecutor)(nil)

// Func creates an executor from a function.
// The function must have one of the signatures:
//
//	func(ctx context.Context, args T) error
//	func(ctx context.Context, args T) (core.ExecutionResult, error)
//
// The context and the args parameter are both optional. A string-kinded T
// receives the params unchanged; any other T is decoded from JSON. A nil error without a result means SUCCESS.
func Func(name string, kind core.OperationKind, fn any) (*FuncExecutor, error) {
	if fn == nil {
		return nil, fmt.Errorf("executor function cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("executor must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("executor function cannot be nil")
	}

	fnType := fnVal.Type()
	e := &FuncExecutor{name: name, kind: kind, fn: fnVal}

	numIn := fnType.NumIn()
	if numIn > 2 {
		return nil, fmt.Errorf("executor must have at most 2 arguments")
	}
	argIdx := 0
	if numIn > 0 && fnType.In(0).Implements(contextType) {
		e.hasContext = true
		argIdx = 1
	}
	if argIdx < numIn {
		e.argsType = fnType.In(argIdx)
	} else if numIn == 2 {
		return nil, fmt.Errorf("executor's first argument must be context.Context")
	}

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("executor must return error")
		}
	case 2:
		if fnType.Out(0) != resultType || !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("executor must return (core.ExecutionResult, error)")
		}
		e.hasResult = true
	default:
		return nil, fmt.Errorf("executor must return error or (core.ExecutionResult, error)")
	}

	return e, nil
}

// MustFunc is like Func but panics on error.
func MustFunc(name string, kind core.OperationKind, fn any) *FuncExecutor {
	e, err := Func(name, kind, fn)
	if err != nil {
		panic(fmt.Sprintf("ops: executor %q: %v", name, err))
	}
	return e
}

func (e *FuncExecutor) Name() string             { return e.name }
func (e *FuncExecutor) Kind() core.OperationKind { return e.kind }

// Execute decodes params and calls the function.
func (e *FuncExecutor) Execute(ctx context.Context, params string) (core.ExecutionResult, error) {
	var args []reflect.Value

	if e.hasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	if e.argsType != nil {
		argVal := reflect.New(e.argsType)
		if e.argsType.Kind() == reflect.String {
			// EncodeParams stores strings unencoded.
			argVal.Elem().SetString(params)
		} else if params != "" {
			if err := json.Unmarshal([]byte(params), argVal.Interface()); err != nil {
				return core.ResultFail, core.NoRetry(fmt.Errorf("failed to unmarshal params: %w", err))
			}
		}
		args = append(args, argVal.Elem())
	}

	results := e.fn.Call(args)

	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		return core.ResultAttemptFailed, errVal.Interface().(error)
	}
	if e.hasResult {
		return results[0].Interface().(core.ExecutionResult), nil
	}
	return core.ResultSuccess, nil
}
