package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindTransient, "op", nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := New(KindNotFound, "storage.Get", "document missing")
	wrapped := fmt.Errorf("handling request: %w", err)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindTransient, "op", "throttled")))
	assert.False(t, Retryable(New(KindModel, "op", "bad completion")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("conditional check failed")
	err := Wrap(KindConsistency, "storage.UpdateStatus", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage.UpdateStatus")
}
