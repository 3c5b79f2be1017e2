package memerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "no underlying error",
			err:  &Error{Op: "record.Open", Kind: KindCorruption},
			want: "brain: record.Open: corruption",
		},
		{
			name: "with underlying error",
			err:  &Error{Op: "knowledge.LinkPatterns", Kind: KindIntegrity, Err: ErrMissingReference},
			want: "brain: knowledge.LinkPatterns (integrity): referenced record does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorFormattingWithContext(t *testing.T) {
	err := NewIntegrityError("knowledge.LinkPatterns", ErrMissingReference).
		WithContext(map[string]any{"from": "p1"})
	assert.Contains(t, err.Error(), "context:")
	assert.Contains(t, err.Error(), "p1")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewInternalError("working.AppendTurn", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewIntegrityError("knowledge.LinkPatterns", ErrMissingReference)

	assert.ErrorIs(t, err, &Error{Kind: KindIntegrity})
	assert.ErrorIs(t, err, &Error{Op: "knowledge.LinkPatterns", Kind: KindIntegrity})
	assert.NotErrorIs(t, err, &Error{Kind: KindValidation})
	assert.NotErrorIs(t, err, &Error{Op: "other.Op", Kind: KindIntegrity})
}

func TestErrorIsMatchesSentinel(t *testing.T) {
	err := NewThrottledError("intel.CollectGitMetrics", ErrThrottled)
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestKind(t *testing.T) {
	err := NewValidationError("knowledge.AddPattern", ErrInvalidInput)
	assert.Equal(t, KindValidation, Kind(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindIntegrity))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindValidation, Kind(wrapped))

	assert.Equal(t, "", Kind(errors.New("plain")))
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	err := NewNotFoundError("knowledge.GetPattern", ErrNotFound)
	withCtx := err.WithContext(map[string]any{"id": "abc"})

	assert.Nil(t, err.Context)
	assert.Equal(t, "abc", withCtx.Context["id"])
}

func TestConstructors(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		name string
		err  *Error
		kind string
	}{
		{"validation", NewValidationError("op", cause), KindValidation},
		{"integrity", NewIntegrityError("op", cause), KindIntegrity},
		{"throttled", NewThrottledError("op", cause), KindThrottled},
		{"corruption", NewCorruptionError("op", cause), KindCorruption},
		{"not found", NewNotFoundError("op", cause), KindNotFound},
		{"timeout", NewTimeoutError("op", cause), KindTimeout},
		{"internal", NewInternalError("op", cause), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, "op", tt.err.Op)
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}
