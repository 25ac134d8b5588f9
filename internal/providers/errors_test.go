package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("stage failed: %w",
		NewBackendError("gigachat", KindRateLimited, "rate limit exceeded", nil))

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBackendError("ollama", KindNetwork, "generate request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ollama")
	assert.Contains(t, err.Error(), "connection refused")
}
