package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/jdziat/simple-durable-ops/pkg/core"
	"github.com/jdziat/simple-durable-ops/pkg/security"
)

// EncodeParams serializes params for e. Strings are stored as given, an
// executor implementing ParamsCodec encodes its own params, anything else is
// JSON.
func EncodeParams(e Executor, params any) (string, error) {
	var (
		out string
		err error
	)
	switch p := params.(type) {
	case nil:
		out = ""
	case string:
		out = p
	case []byte:
		out = string(p)
	default:
		if codec, ok := e.(ParamsCodec); ok {
			out, err = codec.EncodeParams(params)
		} else {
			var b []byte
			b, err = json.Marshal(params)
			out = string(b)
		}
	}
	if err != nil {
		return "", fmt.Errorf("ops: failed to encode params: %w", err)
	}
	if err := security.ValidateParams(out); err != nil {
		return "", err
	}
	return out, nil
}

// DecodeParams unmarshals JSON params into T. A string-kinded T gets the
// params unchanged, mirroring EncodeParams.
func DecodeParams[T any](params string) (T, error) {
	var v T
	if rv := reflect.ValueOf(&v).Elem(); rv.Kind() == reflect.String {
		rv.SetString(params)
		return v, nil
	}
	if params == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(params), &v); err != nil {
		return v, fmt.Errorf("ops: failed to decode params: %w", err)
	}
	return v, nil
}

func isNoRetry(err error) bool {
	var nr *core.NoRetryError
	return errors.As(err, &nr)
}
