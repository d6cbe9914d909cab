// Package connector is the virtual transport of a nested piano server: each
// outer request/response is turned into one engine stream, in memory, with
// no socket underneath.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/blessli/pianonest/nested"
	"github.com/blessli/pianonest/transport"
)

var (
	// ErrNotServing is returned by Service before a server handles the
	// connector's streams or after the connector was closed.
	ErrNotServing = errors.New("connector: not serving")
	// ErrAlreadyServing is returned by a second HandleStreams.
	ErrAlreadyServing = errors.New("connector: streams are already handled")
)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger exchanges log to.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connector) {
		c.log = log
	}
}

// WithExecutor sets the executor engine continuations are dispatched on. It
// should be the engine's own.
func WithExecutor(exec transport.Executor) Option {
	return func(c *Connector) {
		c.exec = exec
	}
}

// Connector is a transport.ServerTransport fed by Service calls instead of
// accepted connections.
type Connector struct {
	log    zerolog.Logger
	exec   transport.Executor
	nextID atomic.Uint64

	mu       sync.Mutex
	handle   func(*transport.Stream)
	traceCtx func(context.Context, string) context.Context
	active   map[*Channel]struct{}
	closed   bool
	ready    chan struct{}
	done     chan struct{}
}

var _ transport.ServerTransport = (*Connector)(nil)

// NewConnector returns a Connector. Streams are served once a server calls
// HandleStreams.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		log:    zerolog.Nop(),
		exec:   transport.GoExecutor,
		active: make(map[*Channel]struct{}),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Connector) HandleStreams(handle func(*transport.Stream), traceCtx func(context.Context, string) context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnClosing
	}
	if c.handle != nil {
		c.mu.Unlock()
		return ErrAlreadyServing
	}
	c.handle = handle
	c.traceCtx = traceCtx
	close(c.ready)
	c.mu.Unlock()

	c.log.Debug().Msg("connector serving")
	<-c.done
	return nil
}

// Service runs one outer exchange through the engine. It returns once the
// engine has completed or suspended the exchange; completion is signalled
// through rr.StopAsync. An error means the exchange was not taken over and
// the caller must answer it. A panic in the engine is reported as an error
// too; the exchange is then already completed with a 500.
func (c *Connector) Service(rr nested.RequestResponse) (err error) {
	c.mu.Lock()
	handle, traceCtx := c.handle, c.traceCtx
	if c.closed || handle == nil {
		c.mu.Unlock()
		return ErrNotServing
	}
	c.mu.Unlock()

	ep := newEndpoint(c.nextID.Add(1), rr)
	log := c.log.With().Uint64("exchange", ep.ID()).Stringer("remote", ep.RemoteAddr()).Logger()
	ch := newChannel(rr, c.exec, log)

	ctx := peer.NewContext(context.Background(), ep.peer())
	s, err := transport.NewStream(ctx, transport.StreamConfig{
		ID:      ep.ID(),
		Fields:  ep.headerFields(),
		Channel: ch,
		Log:     log,
	})
	if err != nil {
		var he *transport.HeaderError
		if errors.As(err, &he) {
			log.Debug().Err(err).Msg("exchange rejected")
			ch.reject(he.Status, he.Msg)
			return nil
		}
		return err
	}
	if traceCtx != nil {
		s.WithContext(traceCtx(s.Context(), s.Method()))
	}
	ch.attach(s)
	if !c.track(ch) {
		s.Cancel()
		return ErrNotServing
	}
	s.OnComplete(func() { c.untrack(ch) })

	rr.SetReadListener(ch)
	rr.SetWriteListener(ch)
	log.Debug().Str("method", s.Method()).Msg("exchange started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector: engine panicked handling %s: %v", s.Method(), r)
			log.Error().Err(err).Msg("exchange failed")
			ch.Failed(err)
			ch.abort()
			s.Complete()
			c.untrack(ch)
		}
	}()
	handle(s)
	return nil
}

func (c *Connector) track(ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.active[ch] = struct{}{}
	return true
}

func (c *Connector) untrack(ch *Channel) {
	c.mu.Lock()
	delete(c.active, ch)
	c.mu.Unlock()
}

// Ready is closed once a server handles the connector's streams.
func (c *Connector) Ready() <-chan struct{} { return c.ready }

// Serving reports whether a server handles the connector's streams.
func (c *Connector) Serving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil && !c.closed
}

// ActiveExchanges returns the number of exchanges the engine has not
// completed yet.
func (c *Connector) ActiveExchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Connector) Write(s *transport.Stream, hdr []byte, data []byte, cb transport.Callback) {
	var resp *transport.Response
	if !s.HeaderSent() {
		resp = &transport.Response{Status: http.StatusOK, Header: s.CommitHeader()}
	}
	buf := make([]byte, 0, len(hdr)+len(data))
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	s.Channel().Send(resp, buf, false, cb)
}

func (c *Connector) WriteStatus(s *transport.Stream, st *status.Status, cb transport.Callback) {
	if cb == nil {
		cb = transport.CallbackFuncs{}
	}
	trailer, err := transport.StatusTrailer(st)
	if err != nil {
		c.log.Error().Err(err).Str("method", s.Method()).Msg("encoding status details")
	}

	resp := &transport.Response{Trailer: trailer}
	if !s.HeaderSent() {
		// Trailers-only: the status travels in the header.
		h := s.CommitHeader()
		for k, v := range trailer {
			h[k] = v
		}
		resp = &transport.Response{Status: http.StatusOK, Header: h}
	}
	s.Channel().Send(resp, nil, true, transport.CallbackFuncs{
		OnSuccess: func() {
			s.Complete()
			cb.Succeeded()
		},
		OnFailure: func(err error) {
			s.Complete()
			cb.Failed(err)
		},
	})
}

// Close stops serving. Exchanges still running are failed with
// transport.ErrConnClosing.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	active := make([]*Channel, 0, len(c.active))
	for ch := range c.active {
		active = append(active, ch)
	}
	c.mu.Unlock()

	for _, ch := range active {
		if ch.Failed(transport.ErrConnClosing) {
			ch.dispatch(ch.currentStream())
		}
	}
	return nil
}
