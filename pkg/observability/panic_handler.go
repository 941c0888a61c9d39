package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack.
//
// Call it in a defer at the top of background goroutines:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "permission file watcher")
//	    ...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		LogPanic(logger, r, where)
	}
}

// LogPanic logs a recovered panic value with the current stack
func LogPanic(logger *Logger, r interface{}, where string) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
}

// MustRecover converts a recovered panic value to an error, or nil when r is nil
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
