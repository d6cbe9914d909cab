package adapter

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blessli/pianonest/nested"
)

func TestInputDeliversChunksInOrderWithSingleEOF(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	events := newReadEvents()
	in.SetReadListener(events)
	buf := make([]byte, 64)

	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, src.demandCount())

	src.push("hello ", false)
	src.fire(t)
	n, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(buf[:n]))

	// Exhausted, not last: suspend until the next data-available callback.
	n, err = in.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 2, src.demandCount())

	src.push(" world", false)
	src.fire(t)
	n, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, " world", string(buf[:n]))

	n, err = in.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	src.push("", true)
	src.fire(t)
	available, allDataRead, _ := events.counts()
	assert.Equal(t, 3, available)
	assert.Zero(t, allDataRead)

	for i := 0; i < 5; i++ {
		n, err = in.Read(buf)
		require.ErrorIs(t, err, io.EOF)
		require.Zero(t, n)
		require.False(t, in.IsReady())
	}
	_, allDataRead, errs := events.counts()
	assert.Equal(t, 1, allDataRead, "all data read must fire exactly once")
	assert.Zero(t, errs)
	assert.True(t, in.IsFinished())
	assert.Equal(t, 3, src.demandCount(), "no demand after the last cell")
}

func TestInputDrainsLastCellBeforeFinishing(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	in.SetReadListener(newReadEvents())

	require.False(t, in.IsReady())
	src.push("tail", true)
	src.fire(t)

	require.False(t, in.IsFinished())
	buf := make([]byte, 2)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ta", string(buf[:n]))
	require.False(t, in.IsFinished())

	n, err = in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "il", string(buf[:n]))
	assert.True(t, in.IsFinished())
}

func TestInputReadErrorAfterPartialContent(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	events := newReadEvents()
	in.SetReadListener(events)
	buf := make([]byte, 64)

	_, _ = in.Read(buf)
	src.push("partial", false)
	src.fire(t)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf[:n]))

	n, err = in.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	reset := errors.New("connection reset")
	src.fail(reset)
	src.fire(t)

	for i := 0; i < 3; i++ {
		n, err = in.Read(buf)
		require.Zero(t, n)
		require.ErrorIs(t, err, reset)
		require.True(t, nested.IsStreamError(err))
	}
	available, allDataRead, errs := events.counts()
	assert.Equal(t, 1, available)
	assert.Zero(t, allDataRead)
	assert.Equal(t, 1, errs)
}

func TestInputDemandIsRegisteredOnce(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())

	for i := 0; i < 4; i++ {
		require.False(t, in.IsReady())
	}
	assert.Equal(t, 1, src.demandCount())
}

func TestInputReadByteWithoutContent(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	in.SetReadListener(newReadEvents())

	_, err := in.ReadByte()
	require.ErrorIs(t, err, nested.ErrIllegalReadState)
	require.True(t, nested.IsUsageError(err))

	require.False(t, in.IsReady())
	src.push("z", true)
	src.fire(t)
	b, err := in.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('z'), b)

	_, err = in.ReadByte()
	require.ErrorIs(t, err, nested.ErrIllegalReadState)
}

func TestInputFailNotifiesOnce(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	events := newReadEvents()
	in.SetReadListener(events)

	cause := errors.New("client went away")
	in.Fail(cause)
	in.Fail(errors.New("second"))

	_, _, errs := events.counts()
	assert.Equal(t, 1, errs)
	_, err := in.Read(make([]byte, 1))
	require.ErrorIs(t, err, cause)
}

type panickingListener struct{ *readEvents }

func (p *panickingListener) OnDataAvailable() { panic("listener bug") }

func TestInputRecoversListenerPanic(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())
	in.SetReadListener(&panickingListener{readEvents: newReadEvents()})

	require.False(t, in.IsReady())
	src.push("x", false)
	require.NotPanics(t, func() { src.fire(t) })
	assert.True(t, in.IsReady())
}

func TestInputClose(t *testing.T) {
	src := &scriptedSource{}
	in := NewInput(src, zerolog.Nop())

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.True(t, src.closed)
	assert.True(t, in.IsFinished())
	assert.False(t, in.IsReady())
}
