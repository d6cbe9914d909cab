package adapter

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/nested"
)

// Sink is the blocking write primitive of an outer response.
type Sink interface {
	io.Writer
	Flush() error
	// Close ends the response. No write follows.
	Close() error
}

// Output turns a blocking Sink into asynchronous writes with a single writer.
// A write is started by Write, WriteString or WriteLast and runs on its own
// goroutine; until it completes IsReady reports false and a further write is
// rejected with ErrWritePending. Completion is reported to the write listener
// and, for WriteLast, to the callback.
type Output struct {
	sink      Sink
	chunkSize int
	scratch   *chunkWriter
	log       zerolog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	writing  bool
	closed   bool
	err      error
	listener nested.WriteListener
}

// NewOutput returns an Output writing to sink in chunks of at most chunkSize
// bytes.
func NewOutput(sink Sink, chunkSize int, log zerolog.Logger) *Output {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	o := &Output{
		sink:      sink,
		chunkSize: chunkSize,
		scratch:   newChunkWriter(sink, chunkSize),
		log:       log,
	}
	o.idle = sync.NewCond(&o.mu)
	return o
}

// SetWriteListener registers l; it replaces any earlier listener.
func (o *Output) SetWriteListener(l nested.WriteListener) {
	o.mu.Lock()
	o.listener = l
	o.mu.Unlock()
}

// IsReady reports whether no write is in flight.
func (o *Output) IsReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.writing
}

// IsClosed reports whether the output was closed or a last write started.
func (o *Output) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Write starts writing p. The slices handed to the sink are views of p, so p
// must not be modified until the write completes.
func (o *Output) Write(p []byte) error {
	if err := o.begin(false); err != nil {
		return err
	}
	go o.run(func() error { return o.writeChunks([][]byte{p}) }, false, nil)
	return nil
}

// WriteString starts writing s through the scratch buffer.
func (o *Output) WriteString(s string) error {
	if err := o.begin(false); err != nil {
		return err
	}
	go o.run(func() error {
		o.scratch.reset()
		if _, err := o.scratch.WriteString(s); err != nil {
			return err
		}
		return o.scratch.Flush()
	}, false, nil)
	return nil
}

// WriteLast starts writing bufs and completes cb. When last is set the sink
// is closed before cb runs.
func (o *Output) WriteLast(last bool, cb nested.Callback, bufs ...[]byte) {
	if cb == nil {
		cb = nested.NoopCallback
	}
	if err := o.begin(last); err != nil {
		cb.Failed(err)
		return
	}
	go o.run(func() error { return o.writeChunks(bufs) }, last, cb)
}

// Wait blocks until no write is in flight.
func (o *Output) Wait() {
	o.mu.Lock()
	for o.writing {
		o.idle.Wait()
	}
	o.mu.Unlock()
}

// Close closes the sink. It fails with ErrWritePending while a write is in
// flight.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	if o.writing {
		o.mu.Unlock()
		return &nested.UsageError{Op: "close", Err: nested.ErrWritePending}
	}
	o.closed = true
	o.mu.Unlock()

	if err := o.sink.Close(); err != nil {
		err = &nested.StreamError{Op: "close", Err: err}
		o.mu.Lock()
		if o.err == nil {
			o.err = err
		}
		o.mu.Unlock()
		return err
	}
	return nil
}

func (o *Output) begin(last bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.writing:
		return &nested.UsageError{Op: "write", Err: nested.ErrWritePending}
	case o.err != nil:
		return o.err
	case o.closed:
		return &nested.UsageError{Op: "write", Err: nested.ErrClosed}
	}
	o.writing = true
	if last {
		o.closed = true
	}
	return nil
}

func (o *Output) writeChunks(bufs [][]byte) error {
	for _, b := range bufs {
		for len(b) > 0 {
			n := len(b)
			if n > o.chunkSize {
				n = o.chunkSize
			}
			if _, err := o.sink.Write(b[:n]); err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

func (o *Output) run(job func() error, last bool, cb nested.Callback) {
	err := job()
	if err == nil {
		err = o.sink.Flush()
	}
	if err == nil && last {
		err = o.sink.Close()
	}
	if err != nil {
		err = &nested.StreamError{Op: "write", Err: err}
	}

	o.mu.Lock()
	o.writing = false
	if err != nil && o.err == nil {
		o.err = err
	}
	l := o.listener
	o.idle.Broadcast()
	o.mu.Unlock()

	if cb != nil {
		if err != nil {
			nested.Guard(o.log, "Failed", func() { cb.Failed(err) })
		} else {
			nested.Guard(o.log, "Succeeded", cb.Succeeded)
		}
	}
	if l != nil {
		if err != nil {
			nested.Guard(o.log, "OnError", func() { l.OnError(err) })
		} else {
			nested.Guard(o.log, "OnWritePossible", l.OnWritePossible)
		}
	}
}
