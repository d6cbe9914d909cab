// Package host mounts a nested piano server inside an outer net/http
// server. Every request the Handler receives becomes one engine stream.
package host

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	piano "github.com/blessli/pianonest"
	"github.com/blessli/pianonest/adapter"
	"github.com/blessli/pianonest/connector"
)

// ErrNotStarted is returned by Stop on a handler that was never started.
var ErrNotStarted = errors.New("host: handler not started")

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger of the handler and of the exchanges it runs.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// WithAdapterOptions sets the buffer sizes of each outer exchange.
func WithAdapterOptions(opts adapter.Options) Option {
	return func(h *Handler) {
		h.opts = opts
	}
}

// Handler is an http.Handler dispatching to a nested piano server.
type Handler struct {
	srv  *piano.Server
	conn *connector.Connector
	log  zerolog.Logger
	opts adapter.Options

	mu       sync.Mutex
	started  bool
	served   chan struct{}
	serveErr error
}

var _ http.Handler = (*Handler)(nil)

// NewHandler returns a Handler for srv. The connector runs continuations on
// the server's executor.
func NewHandler(srv *piano.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:    srv,
		log:    zerolog.Nop(),
		served: make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.conn = connector.NewConnector(
		connector.WithExecutor(srv.Executor()),
		connector.WithLogger(h.log.With().Str("component", "connector").Logger()),
	)
	return h
}

// Start serves the connector and returns once requests are accepted.
func (h *Handler) Start() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	go func() {
		err := h.srv.Serve(h.conn)
		h.mu.Lock()
		h.serveErr = err
		h.mu.Unlock()
		close(h.served)
	}()

	select {
	case <-h.conn.Ready():
	case <-h.served:
		return fmt.Errorf("host: serving nested server: %w", h.err())
	}
	h.log.Info().Msg("nested server started")
	return nil
}

// Stop stops the nested server. Exchanges still in flight are answered with
// codes.Unavailable before Stop returns.
func (h *Handler) Stop() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	h.srv.Stop()
	<-h.served
	h.log.Info().Msg("nested server stopped")
	return h.err()
}

func (h *Handler) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serveErr
}

// ActiveExchanges returns the number of requests currently inside the engine.
func (h *Handler) ActiveExchanges() int { return h.conn.ActiveExchanges() }

// ServeHTTP runs the request through the nested server and blocks until the
// exchange is done. A cancelled request context fails the exchange; the
// engine still completes it before ServeHTTP returns.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rr := adapter.NewRequestResponse(w, r, h.opts, h.log)
	rr.StartAsync()
	if err := h.conn.Service(rr); err != nil {
		h.log.Error().Err(err).Str("method", r.Method).Str("uri", r.RequestURI).Msg("nested service failed")
		rr.Abort(err)
		return
	}

	ctx := r.Context()
	select {
	case <-rr.Done():
	case <-ctx.Done():
		h.log.Debug().Err(ctx.Err()).Str("uri", r.RequestURI).Msg("request context done")
		rr.Fail(ctx.Err())
		<-rr.Done()
	}
}
