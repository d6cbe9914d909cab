package content

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellConsume(t *testing.T) {
	c := Wrap([]byte("hello world"), false)
	require.True(t, c.HasRemaining())
	require.Equal(t, 11, c.Remaining())

	b, err := c.Consume(6)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(b))
	assert.Equal(t, "world", string(c.Bytes()))

	b, err = c.Consume(100)
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))
	assert.False(t, c.HasRemaining())
	assert.False(t, c.IsLast())
}

func TestCellDoubleRelease(t *testing.T) {
	released := 0
	c := WrapFunc([]byte("x"), true, func() { released++ })

	require.NoError(t, c.Release())
	err := c.Release()
	require.ErrorIs(t, err, ErrDoubleRelease)
	assert.Equal(t, 1, released, "release hook must run once")
	assert.True(t, c.Released())
}

func TestCellConsumeAfterRelease(t *testing.T) {
	c := Wrap([]byte("abc"), false)
	require.NoError(t, c.Release())

	_, err := c.Consume(1)
	require.ErrorIs(t, err, ErrUseAfterRelease)
	assert.False(t, c.HasRemaining())
	assert.Nil(t, c.Bytes())
}

func TestCellFailReleases(t *testing.T) {
	released := false
	c := WrapFunc([]byte("abc"), false, func() { released = true })
	require.NoError(t, c.Fail(errors.New("boom")))
	assert.True(t, released)
	require.ErrorIs(t, c.Release(), ErrDoubleRelease)
}

func TestTerminalMarkers(t *testing.T) {
	eof := EOF()
	assert.True(t, eof.IsEOF())
	assert.Same(t, eof, EOF())
	assert.ErrorIs(t, eof.Err(), io.EOF)
	assert.Same(t, eof, Error(nil))

	cause := errors.New("reset")
	failed := Error(cause)
	assert.False(t, failed.IsEOF())
	assert.ErrorIs(t, failed.Err(), cause)
	assert.Equal(t, "Error(reset)", failed.String())

	var items []Content = []Content{Wrap(nil, true), eof, failed}
	kinds := 0
	for _, item := range items {
		switch item.(type) {
		case *Cell, *Terminal:
			kinds++
		}
	}
	assert.Equal(t, 3, kinds)
}
