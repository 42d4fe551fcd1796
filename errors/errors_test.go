package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrapping(t *testing.T) {
	err := NewNotFound("query %s", "QRY_missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "QRY_missing")

	wrapped := Wrap(err, "loading query")
	assert.True(t, IsNotFound(wrapped), "wrapping must preserve the sentinel")
}

func TestIsLocked(t *testing.T) {
	assert.False(t, IsLocked(nil))
	assert.False(t, IsLocked(New("some other error")))
	assert.True(t, IsLocked(Wrap(ErrLocked, "query QRY_x")))
}

func TestInvalidConfig(t *testing.T) {
	err := NewInvalidConfig("interval must be >= 1, got %d", 0)
	assert.True(t, IsInvalidConfig(err))
	assert.False(t, IsNotFound(err))
}
