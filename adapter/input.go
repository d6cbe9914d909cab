package adapter

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/content"
	"github.com/blessli/pianonest/nested"
)

// Input presents a Source as a non-blocking reader with a readiness query.
//
// At any instant the input is in one of four states: a cell with bytes is
// held (content available), no cell is held and a demand is outstanding (no
// content), the last cell is drained (all data read), or the source failed
// (errored). Transitions happen under mu; listeners are always invoked after
// mu is released because they may call back into the Input.
type Input struct {
	src Source
	log zerolog.Logger

	mu             sync.Mutex
	cell           *content.Cell
	listener       nested.ReadListener
	err            error
	allDataRead    bool
	errorDelivered bool
	closed         bool
}

// NewInput returns an Input over src. Nothing is read from src until the
// first IsReady.
func NewInput(src Source, log zerolog.Logger) *Input {
	return &Input{
		src:  src,
		log:  log,
		cell: content.Wrap(nil, false),
	}
}

// SetReadListener registers the listener notified about new content,
// end-of-stream and failures.
func (in *Input) SetReadListener(l nested.ReadListener) {
	in.mu.Lock()
	in.listener = l
	in.mu.Unlock()
}

// IsReady reports whether Read can return bytes without waiting. When the
// held cell is exhausted it is released and more content is demanded; the
// listener's OnDataAvailable follows. When the last cell is exhausted the
// listener's OnAllDataRead is invoked, once.
func (in *Input) IsReady() bool {
	in.mu.Lock()
	if in.err != nil || in.closed || in.cell == nil {
		in.mu.Unlock()
		return false
	}
	if in.cell.HasRemaining() {
		in.mu.Unlock()
		return true
	}
	if in.cell.IsLast() {
		l := in.listener
		notify := l != nil && !in.allDataRead
		if notify {
			in.allDataRead = true
		}
		in.mu.Unlock()
		if notify {
			nested.Guard(in.log, "OnAllDataRead", l.OnAllDataRead)
		}
		return false
	}

	in.releaseLocked()
	in.mu.Unlock()
	in.src.Demand(in.onContentAvailable)
	return false
}

// IsFinished reports whether the last cell has been fully drained or the
// input was closed.
func (in *Input) IsFinished() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.finishedLocked()
}

func (in *Input) finishedLocked() bool {
	if in.closed {
		return true
	}
	return in.cell != nil && in.cell.IsLast() && !in.cell.HasRemaining()
}

// Read copies available bytes into dst. It returns 0 and a nil error when no
// bytes are ready yet; the caller waits for OnDataAvailable. After the stream
// has ended it returns io.EOF, after a source failure the failure.
func (in *Input) Read(dst []byte) (int, error) {
	if !in.IsReady() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if in.err != nil {
			return 0, in.err
		}
		if in.finishedLocked() {
			return 0, io.EOF
		}
		return 0, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cell == nil {
		return 0, nil
	}
	b, err := in.cell.Consume(len(dst))
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

// ReadByte reads a single byte from the held cell. Calling it with no bytes
// held is a usage error.
func (in *Input) ReadByte() (byte, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cell == nil || !in.cell.HasRemaining() {
		return 0, &nested.UsageError{Op: "read", Err: nested.ErrIllegalReadState}
	}
	b, err := in.cell.Consume(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Fail aborts the input with err. The listener's OnError runs once.
func (in *Input) Fail(err error) {
	in.mu.Lock()
	if in.err == nil {
		in.err = &nested.StreamError{Op: "read", Err: err}
	}
	l, notify, failure := in.claimErrorLocked()
	in.mu.Unlock()

	if notify {
		nested.Guard(in.log, "OnError", func() { l.OnError(failure) })
	}
}

// Close releases the held cell and closes the source.
func (in *Input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.releaseLocked()
	in.mu.Unlock()
	return in.src.Close()
}

func (in *Input) onContentAvailable() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	c, err := in.src.ReadContent()
	if err != nil && in.err == nil {
		in.err = &nested.StreamError{Op: "read", Err: err}
	}
	if c != nil {
		in.cell = c
	}
	l := in.listener
	errL, notifyErr, failure := in.claimErrorLocked()
	in.mu.Unlock()

	switch {
	case notifyErr:
		nested.Guard(in.log, "OnError", func() { errL.OnError(failure) })
	case err != nil:
	case c == nil:
		in.src.Demand(in.onContentAvailable)
	case l != nil:
		nested.Guard(in.log, "OnDataAvailable", l.OnDataAvailable)
	}
}

func (in *Input) claimErrorLocked() (nested.ReadListener, bool, error) {
	if in.err == nil || in.errorDelivered || in.listener == nil {
		return nil, false, nil
	}
	in.errorDelivered = true
	return in.listener, true, in.err
}

func (in *Input) releaseLocked() {
	if in.cell == nil {
		return
	}
	if err := in.cell.Release(); err != nil {
		in.log.Error().Err(err).Msg("releasing request content")
	}
	in.cell = nil
}
