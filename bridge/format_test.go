package bridge

import (
	"fmt"
	"os"
	"testing"

	"github.com/wippyai/wasm-sandbox/errors"
)

type timeoutError struct {
	after string
}

func (e *timeoutError) Error() string {
	return "no message after " + e.after
}

type selfFormatted struct{}

func (selfFormatted) Error() string       { return "raw" }
func (selfFormatted) FormatError() string { return "CustomError: rendered" }

func TestFormatHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "named type",
			err:  &timeoutError{after: "5s"},
			want: "timeoutError: no message after 5s",
		},
		{
			name: "stdlib sentinel",
			err:  os.ErrClosed,
			want: "errorString: file already closed",
		},
		{
			name: "wrapped",
			err:  fmt.Errorf("recv: %w", os.ErrClosed),
			want: "wrapError: recv: file already closed",
		},
		{
			name: "formatter takes over",
			err:  selfFormatted{},
			want: "CustomError: rendered",
		},
		{
			name: "nil",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatHandleError(tt.err); got != tt.want {
				t.Errorf("FormatHandleError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsHandleFailure(t *testing.T) {
	t.Run("wraps plain error", func(t *testing.T) {
		got := asHandleFailure(&timeoutError{after: "1s"})
		if got.Kind != errors.KindHandleFailure {
			t.Errorf("kind = %s, want %s", got.Kind, errors.KindHandleFailure)
		}
		if got.Detail != "timeoutError: no message after 1s" {
			t.Errorf("detail = %q", got.Detail)
		}
	})

	t.Run("passes through existing failure", func(t *testing.T) {
		orig := errors.HandleFailure("OSError: broken pipe")
		if got := asHandleFailure(orig); got != orig {
			t.Error("existing handle failure should pass through unchanged")
		}
	})
}
