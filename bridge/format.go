package bridge

import (
	"reflect"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Formatter lets a handle error carry its own guest-facing rendering.
type Formatter interface {
	FormatError() string
}

// FormatHandleError renders a handle failure as "Type: message", the only
// shape the guest ever sees. Errors implementing Formatter render themselves.
func FormatHandleError(err error) string {
	if err == nil {
		return ""
	}
	if f, ok := err.(Formatter); ok {
		return f.FormatError()
	}
	return typeName(err) + ": " + err.Error()
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// asHandleFailure wraps err in a handle-failure error carrying only the
// formatted rendering. Already-formatted failures pass through.
func asHandleFailure(err error) *errors.Error {
	if e, ok := err.(*errors.Error); ok && e.Kind == errors.KindHandleFailure {
		return e
	}
	return errors.HandleFailure(FormatHandleError(err))
}
