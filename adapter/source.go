package adapter

import (
	"errors"
	"io"
	"sync"

	"github.com/blessli/pianonest/content"
)

// Source is a demand-driven view of a request body.
type Source interface {
	// Demand asks for the next chunk. fn runs once, on another goroutine,
	// when ReadContent may return something. A Demand issued while one is
	// outstanding is ignored.
	Demand(fn func())
	// ReadContent returns the pending chunk, or nil when none is pending.
	ReadContent() (*content.Cell, error)
	Close() error
}

type bodySource struct {
	body io.ReadCloser
	pool *bufferPool

	mu      sync.Mutex
	pending *content.Cell
	err     error
	eof     bool
	waiter  func()
	reading bool
	closed  bool
}

// NewSource returns a Source reading body in chunks of at most bufferSize
// bytes.
func NewSource(body io.ReadCloser, bufferSize int) Source {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return newBodySource(body, newBufferPool(bufferSize))
}

func newBodySource(body io.ReadCloser, pool *bufferPool) *bodySource {
	if body == nil {
		body = io.NopCloser(eofReader{})
	}
	return &bodySource{body: body, pool: pool}
}

func (s *bodySource) Demand(fn func()) {
	s.mu.Lock()
	if s.waiter != nil {
		s.mu.Unlock()
		return
	}
	if s.pending != nil || s.err != nil || s.closed {
		s.mu.Unlock()
		go fn()
		return
	}
	if s.eof {
		// The last chunk was already handed out.
		s.mu.Unlock()
		return
	}
	s.waiter = fn
	if !s.reading {
		s.reading = true
		go s.fill()
	}
	s.mu.Unlock()
}

func (s *bodySource) fill() {
	for {
		buf := s.pool.get()
		n, err := s.body.Read(buf)
		if n == 0 && err == nil {
			s.pool.put(buf)
			continue
		}

		s.mu.Lock()
		switch {
		case err == nil || errors.Is(err, io.EOF):
			last := err != nil
			s.pending = content.WrapFunc(buf[:n], last, func() { s.pool.put(buf) })
			s.eof = last
		case n > 0:
			// Hand out the bytes first, the error follows on the next read.
			s.pending = content.WrapFunc(buf[:n], false, func() { s.pool.put(buf) })
			s.err = err
		default:
			s.pool.put(buf)
			s.err = err
		}
		s.reading = false
		w := s.waiter
		s.waiter = nil
		s.mu.Unlock()

		if w != nil {
			w()
		}
		return
	}
}

func (s *bodySource) ReadContent() (*content.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		c := s.pending
		s.pending = nil
		return c, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func (s *bodySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		_ = pending.Release()
	}
	return s.body.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
