package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Evaluator", "Process", "window aggregation")
	require.Error(t, err)
	assert.Equal(t, "Evaluator.Process: window aggregation failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{
			name:      "wrapped transient",
			err:       WrapTransient(ErrConnectionLost, "NATSClient", "Publish", "send"),
			transient: true,
		},
		{
			name:    "wrapped invalid",
			err:     WrapInvalid(ErrInvalidExpression, "Parser", "Parse", "stack eval"),
			invalid: true,
		},
		{
			name:  "wrapped fatal",
			err:   WrapFatal(ErrMissingConfig, "Evaluator", "Start", "check config"),
			fatal: true,
		},
		{
			name:      "bare context cancellation",
			err:       context.Canceled,
			transient: true,
		},
		{
			name:    "bare parse error",
			err:     fmt.Errorf("decode: %w", ErrParsingFailed),
			invalid: true,
		},
		{
			name:  "bare missing config",
			err:   fmt.Errorf("startup: %w", ErrMissingConfig),
			fatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestClassify_Defaults(t *testing.T) {
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidExpression))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapInvalid(ErrUnknownWord, "Parser", "Parse", ":frobnicate")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Parser", ce.Component)
	assert.True(t, stderrors.Is(err, ErrUnknownWord))
}
