package adapter

import (
	"sync"
	"testing"
	"time"

	"github.com/blessli/pianonest/content"
)

// scriptedSource is a Source whose chunks are pushed by the test and whose
// demand callbacks run when the test fires them.
type scriptedSource struct {
	mu      sync.Mutex
	queue   []*content.Cell
	err     error
	waiter  func()
	demands int
	closed  bool
}

func (s *scriptedSource) Demand(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiter != nil {
		return
	}
	s.demands++
	s.waiter = fn
}

func (s *scriptedSource) ReadContent() (*content.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		c := s.queue[0]
		s.queue = s.queue[1:]
		return c, nil
	}
	return nil, s.err
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) push(b string, last bool) {
	s.mu.Lock()
	s.queue = append(s.queue, content.Wrap([]byte(b), last))
	s.mu.Unlock()
}

func (s *scriptedSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// fire runs the outstanding demand callback, as the outer server would once
// content arrived.
func (s *scriptedSource) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	w := s.waiter
	s.waiter = nil
	s.mu.Unlock()
	if w == nil {
		t.Fatal("no outstanding demand")
	}
	w()
}

func (s *scriptedSource) demandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demands
}

type readEvents struct {
	mu          sync.Mutex
	available   int
	allDataRead int
	errs        []error
	signal      chan struct{}
}

func newReadEvents() *readEvents {
	return &readEvents{signal: make(chan struct{}, 16)}
}

func (e *readEvents) OnDataAvailable() {
	e.mu.Lock()
	e.available++
	e.mu.Unlock()
	e.signal <- struct{}{}
}

func (e *readEvents) OnAllDataRead() {
	e.mu.Lock()
	e.allDataRead++
	e.mu.Unlock()
	e.signal <- struct{}{}
}

func (e *readEvents) OnError(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	e.signal <- struct{}{}
}

func (e *readEvents) counts() (int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available, e.allDataRead, len(e.errs)
}

func (e *readEvents) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for read listener")
	}
}

type writeEvents struct {
	mu       sync.Mutex
	possible int
	errs     []error
	signal   chan struct{}
}

func newWriteEvents() *writeEvents {
	return &writeEvents{signal: make(chan struct{}, 16)}
}

func (e *writeEvents) OnWritePossible() {
	e.mu.Lock()
	e.possible++
	e.mu.Unlock()
	e.signal <- struct{}{}
}

func (e *writeEvents) OnError(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
	e.signal <- struct{}{}
}

func (e *writeEvents) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write listener")
	}
}
