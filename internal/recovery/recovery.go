// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// ErrPanic wraps a panic recovered by Catch.
var ErrPanic = errors.New("recovered panic")

// HandlePanic should be deferred at the top of main().
// It prints the panic with its stack and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		os.Exit(1)
	}
}

// Catch turns a panic in the deferring function into an error:
//
//	func run() (err error) {
//		defer recovery.Catch(&err)
//		...
//	}
func Catch(errp *error) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
	}
}

// Log recovers a panic and logs it instead of crashing. Defer it in
// callbacks that run on foreign threads and cannot return an error, such
// as the audio device callback.
func Log(logger *slog.Logger, where string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("panic recovered", "where", where, "panic", r, "stack", string(debug.Stack()))
	}
}
