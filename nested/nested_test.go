package nested

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPathQuery(t *testing.T) {
	tests := []struct {
		path, query, want string
	}{
		{"/a", "", "/a"},
		{"/a", "x=1", "/a?x=1"},
		{"/a?x=1", "y=2", "/a?x=1&y=2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AddPathQuery(tt.path, tt.query))
	}
}

func TestErrorTaxonomy(t *testing.T) {
	usage := fmt.Errorf("read: %w", &UsageError{Op: "read", Err: ErrIllegalReadState})
	require.True(t, IsUsageError(usage))
	require.False(t, IsStreamError(usage))
	require.ErrorIs(t, usage, ErrIllegalReadState)

	cause := errors.New("connection reset")
	stream := &StreamError{Op: "write", Err: cause}
	require.True(t, IsStreamError(stream))
	require.ErrorIs(t, stream, cause)
	assert.Contains(t, stream.Error(), "write failed")
}

func TestGuardRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	ok := Guard(log, "OnDataAvailable", func() { panic("listener exploded") })
	require.False(t, ok)
	assert.Contains(t, buf.String(), "OnDataAvailable")
	assert.Contains(t, buf.String(), "listener exploded")

	ran := false
	require.True(t, Guard(log, "OnAllDataRead", func() { ran = true }))
	assert.True(t, ran)
}

func TestCallbackFuncs(t *testing.T) {
	var got error
	ok := false
	cb := CallbackFuncs{OnSuccess: func() { ok = true }, OnFailure: func(err error) { got = err }}
	cb.Succeeded()
	cb.Failed(ErrClosed)
	assert.True(t, ok)
	assert.ErrorIs(t, got, ErrClosed)

	NoopCallback.Succeeded()
	NoopCallback.Failed(ErrClosed)
}
