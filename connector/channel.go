package connector

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/content"
	"github.com/blessli/pianonest/nested"
	"github.com/blessli/pianonest/transport"
)

type state int

const (
	stateActive state = iota
	stateAwaitingContent
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateAwaitingContent:
		return "awaiting-content"
	case stateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Channel bridges one outer RequestResponse and one engine stream. It is the
// stream's transport.Channel and the outer read and write listener. Engine
// continuations triggered by outer callbacks always go through the executor.
//
// The lock is never held while calling into the RequestResponse or the
// stream.
type Channel struct {
	rr   nested.RequestResponse
	exec transport.Executor
	log  zerolog.Logger

	mu        sync.Mutex
	stream    *transport.Stream
	state     state
	special   *content.Terminal
	pending   transport.Callback
	committed bool
	completed bool
}

var (
	_ transport.Channel    = (*Channel)(nil)
	_ nested.ReadListener  = (*Channel)(nil)
	_ nested.WriteListener = (*Channel)(nil)
)

func newChannel(rr nested.RequestResponse, exec transport.Executor, log zerolog.Logger) *Channel {
	return &Channel{rr: rr, exec: exec, log: log}
}

func (c *Channel) attach(s *transport.Stream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *Channel) currentStream() *transport.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// State reports the bridge state and the cached terminal marker, if any.
func (c *Channel) State() (string, *content.Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String(), c.special
}

func (c *Channel) NeedContent() bool {
	return c.rr.IsReadReady()
}

func (c *Channel) ProduceContent() content.Content {
	c.mu.Lock()
	if c.special != nil {
		t := c.special
		c.mu.Unlock()
		return t
	}
	c.mu.Unlock()

	if c.rr.IsReadClosed() {
		return c.terminate(content.EOF())
	}
	cell, err := c.rr.Read()
	if err != nil {
		return c.terminate(content.Error(err))
	}
	if cell == nil {
		c.mu.Lock()
		c.state = stateAwaitingContent
		t := c.special
		c.mu.Unlock()
		if t != nil {
			// Terminated while reading.
			return t
		}
		return nil
	}
	if cell.IsLast() && !cell.HasRemaining() {
		c.releaseOuter(cell)
		return c.terminate(content.EOF())
	}

	c.mu.Lock()
	if c.state == stateAwaitingContent {
		c.state = stateActive
	}
	c.mu.Unlock()
	return content.WrapFunc(cell.Bytes(), cell.IsLast(), func() { c.releaseOuter(cell) })
}

func (c *Channel) releaseOuter(cell *content.Cell) {
	if err := cell.Release(); err != nil {
		c.log.Error().Err(err).Msg("releasing outer content")
	}
}

// terminate caches t unless a marker is cached already, and returns the
// cached one.
func (c *Channel) terminate(t *content.Terminal) *content.Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.special == nil {
		c.special = t
		c.state = stateTerminated
		c.log.Debug().Stringer("marker", t).Msg("exchange input terminated")
	}
	return c.special
}

// FailAllContent reports whether the outer input is closed. Nothing is
// buffered ahead of it, so there is no content to fail.
func (c *Channel) FailAllContent(error) bool {
	return c.rr.IsReadClosed()
}

func (c *Channel) Failed(err error) bool {
	c.terminate(content.Error(err))
	s := c.currentStream()
	if s == nil {
		return false
	}
	s.Cancel()
	return s.OnContentProducible()
}

func (c *Channel) EOF() bool {
	marker := content.EOF()
	if err := c.rr.CloseInput(); err != nil {
		marker = content.Error(err)
	}
	c.terminate(marker)
	s := c.currentStream()
	if s == nil {
		return false
	}
	return s.OnContentProducible()
}

func (c *Channel) OnDataAvailable() {
	nested.Guard(c.log, "OnDataAvailable", func() {
		if s := c.currentStream(); s != nil && s.OnContentProducible() {
			c.dispatch(s)
		}
	})
}

func (c *Channel) OnAllDataRead() {
	nested.Guard(c.log, "OnAllDataRead", func() {
		if c.EOF() {
			c.dispatch(c.currentStream())
		}
	})
}

// OnError handles a failure of either the outer input or output.
func (c *Channel) OnError(err error) {
	nested.Guard(c.log, "OnError", func() {
		c.log.Debug().Err(err).Msg("outer exchange failed")
		c.mu.Lock()
		cb := c.pending
		c.pending = nil
		c.mu.Unlock()
		if cb != nil {
			c.exec.Execute(func() { nested.Guard(c.log, "Failed", func() { cb.Failed(err) }) })
		}
		if c.Failed(err) {
			c.dispatch(c.currentStream())
		}
	})
}

func (c *Channel) OnWritePossible() {
	nested.Guard(c.log, "OnWritePossible", func() {
		c.mu.Lock()
		cb := c.pending
		c.pending = nil
		c.mu.Unlock()
		if cb != nil {
			c.exec.Execute(func() { nested.Guard(c.log, "Succeeded", cb.Succeeded) })
		}
	})
}

func (c *Channel) dispatch(s *transport.Stream) {
	if s == nil {
		return
	}
	c.exec.Execute(func() { nested.Guard(c.log, "Handle", s.Handle) })
}

func (c *Channel) Send(resp *transport.Response, p []byte, last bool, cb transport.Callback) {
	if cb == nil {
		cb = transport.CallbackFuncs{}
	}
	c.mu.Lock()
	commit := !c.committed
	c.committed = true
	c.mu.Unlock()

	if commit && resp != nil {
		if resp.Status != 0 {
			c.rr.SetStatus(resp.Status)
		}
		for name, values := range resp.Header {
			for _, v := range values {
				c.rr.AddHeader(name, v)
			}
		}
	}

	if last {
		if resp != nil {
			for name, values := range resp.Trailer {
				for _, v := range values {
					c.rr.AddTrailer(name, v)
				}
			}
		}
		c.rr.WriteLast(true, c.onExecutor(cb), p)
		return
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		err := &nested.UsageError{Op: "write", Err: nested.ErrWritePending}
		c.exec.Execute(func() { nested.Guard(c.log, "Failed", func() { cb.Failed(err) }) })
		return
	}
	c.pending = cb
	c.mu.Unlock()
	if err := c.rr.Write(p); err != nil {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		c.exec.Execute(func() { nested.Guard(c.log, "Failed", func() { cb.Failed(err) }) })
	}
}

func (c *Channel) onExecutor(cb transport.Callback) nested.Callback {
	return nested.CallbackFuncs{
		OnSuccess: func() {
			c.exec.Execute(func() { nested.Guard(c.log, "Succeeded", cb.Succeeded) })
		},
		OnFailure: func(err error) {
			c.exec.Execute(func() { nested.Guard(c.log, "Failed", func() { cb.Failed(err) }) })
		},
	}
}

// abort makes the response a 500 unless something was committed already.
func (c *Channel) abort() {
	c.mu.Lock()
	commit := !c.committed
	c.committed = true
	c.mu.Unlock()
	if commit {
		c.rr.SetStatus(http.StatusInternalServerError)
	}
}

// reject answers the exchange without an engine stream.
func (c *Channel) reject(status int, msg string) {
	c.mu.Lock()
	c.committed = true
	c.mu.Unlock()
	c.rr.SetStatus(status)
	c.rr.AddHeader("Content-Type", "text/plain; charset=utf-8")
	c.rr.WriteLast(true, nested.CallbackFuncs{
		OnSuccess: c.OnCompleted,
		OnFailure: func(error) { c.OnCompleted() },
	}, []byte(msg+"\n"))
}

func (c *Channel) OnCompleted() {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	c.mu.Unlock()
	c.log.Debug().Msg("exchange completed")
	c.rr.StopAsync()
}
