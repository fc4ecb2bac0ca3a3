package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError is returned through RecoverError when a goroutine panicked
type PanicError struct {
	Goroutine string
	Value     interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine %s panicked: %v", e.Goroutine, e.Value)
}

// Recover recovers from panics in goroutines and logs them
// If logger is nil, falls back to stderr to ensure panic is recorded
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// RecoverError is Recover for errgroup workers: besides logging, it stores a
// *PanicError in *errp so the group is cancelled instead of silently losing
// the worker.
//
// Usage:
//
//	g.Go(func() (err error) {
//	    defer goroutine.RecoverError("worker", logger, &err)
//	    ...
//	})
func RecoverError(name string, logger *zap.SugaredLogger, errp *error) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
		if errp != nil {
			*errp = &PanicError{Goroutine: name, Value: r}
		}
	}
}

func logPanic(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	// Fallback to stderr when logger is nil
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
