package goroutine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	func() {
		defer Recover("test-goroutine", logger)
	}()
}

func TestRecover_StringPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("string-panic-goroutine", logger)
		panic("test panic message")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "string-panic-goroutine", fields["goroutine"])
	assert.Equal(t, "test panic message", fields["panic"])
	stack, ok := fields["stack"].(string)
	require.True(t, ok)
	assert.Contains(t, stack, "goroutine")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("boom")
	})
}

func TestRecoverError_SetsError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	run := func() (err error) {
		defer RecoverError("worker-1", logger, &err)
		panic(42)
	}

	err := run()
	require.Error(t, err)

	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "worker-1", panicErr.Goroutine)
	assert.Equal(t, 42, panicErr.Value)
	assert.Len(t, logs.All(), 1)
}

func TestRecoverError_KeepsReturnedError(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	run := func() (err error) {
		defer RecoverError("worker-2", logger, &err)
		return assert.AnError
	}

	assert.ErrorIs(t, run(), assert.AnError)
}
