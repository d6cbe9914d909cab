package adapter

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/content"
	"github.com/blessli/pianonest/nested"
)

const (
	// DefaultBufferSize is the size of one request body chunk.
	DefaultBufferSize = 4096
	// DefaultChunkSize is the largest slice handed to the response writer in
	// one call; it matches net/http's response buffer.
	DefaultChunkSize = 4096
)

// Options tunes a RequestResponse.
type Options struct {
	BufferSize int
	ChunkSize  int
}

// RequestResponse adapts one net/http exchange to nested.RequestResponse.
// The handler that created it must not return before Done is closed.
type RequestResponse struct {
	w   http.ResponseWriter
	r   *http.Request
	log zerolog.Logger

	pool   *bufferPool
	input  *Input
	output *Output
	sink   *responseSink

	mu       sync.Mutex
	started  bool
	failure  error
	stopOnce sync.Once
	done     chan struct{}
}

var _ nested.RequestResponse = (*RequestResponse)(nil)

// NewRequestResponse wraps w and r.
func NewRequestResponse(w http.ResponseWriter, r *http.Request, opts Options, log zerolog.Logger) *RequestResponse {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	pool := newBufferPool(opts.BufferSize)
	sink := newResponseSink(w)
	return &RequestResponse{
		w:      w,
		r:      r,
		log:    log,
		pool:   pool,
		input:  NewInput(newBodySource(r.Body, pool), log),
		output: NewOutput(sink, opts.ChunkSize, log),
		sink:   sink,
		done:   make(chan struct{}),
	}
}

// Done is closed once the exchange is fully handled.
func (rr *RequestResponse) Done() <-chan struct{} { return rr.done }

func (rr *RequestResponse) StartAsync() {
	rr.mu.Lock()
	rr.started = true
	rr.mu.Unlock()
}

// StopAsync finishes the outer exchange. A response that was never committed
// after a failure is answered with 500.
func (rr *RequestResponse) StopAsync() {
	rr.stopOnce.Do(func() {
		rr.mu.Lock()
		failure, started := rr.failure, rr.started
		rr.mu.Unlock()
		if !started {
			rr.log.Warn().Msg("exchange stopped before it was started")
		}

		// The response writer must not be touched once the handler returns.
		rr.output.Wait()
		if failure != nil && !rr.sink.isCommitted() {
			rr.sink.setStatus(http.StatusInternalServerError)
		}
		if !rr.output.IsClosed() {
			if err := rr.output.Close(); err != nil {
				rr.log.Debug().Err(err).Msg("closing response output")
			}
		}
		close(rr.done)
	})
}

// Fail aborts the request input with err. The read listener's OnError runs
// and the embedded engine is expected to complete the exchange.
func (rr *RequestResponse) Fail(err error) {
	rr.mu.Lock()
	if rr.failure == nil {
		rr.failure = err
	}
	rr.mu.Unlock()
	rr.input.Fail(err)
}

// Abort fails the exchange and stops it without waiting for the engine.
func (rr *RequestResponse) Abort(err error) {
	rr.Fail(err)
	rr.StopAsync()
}

func (rr *RequestResponse) Method() string { return rr.r.Method }

func (rr *RequestResponse) RequestURI() string {
	return nested.AddPathQuery(rr.r.URL.Path, rr.r.URL.RawQuery)
}

func (rr *RequestResponse) Protocol() string { return rr.r.Proto }

// HeaderNames returns each request header name once, sorted. net/http keeps
// Host outside the header map; it is reported like any other field.
func (rr *RequestResponse) HeaderNames() []string {
	names := make([]string, 0, len(rr.r.Header)+1)
	for name := range rr.r.Header {
		names = append(names, name)
	}
	if rr.r.Host != "" && rr.r.Header.Get("Host") == "" {
		names = append(names, "Host")
	}
	sort.Strings(names)
	return names
}

func (rr *RequestResponse) HeaderValues(name string) []string {
	if http.CanonicalHeaderKey(name) == "Host" && rr.r.Host != "" {
		return []string{rr.r.Host}
	}
	return rr.r.Header.Values(name)
}

func (rr *RequestResponse) IsSecure() bool { return rr.r.TLS != nil }

func (rr *RequestResponse) TLS() *tls.ConnectionState { return rr.r.TLS }

func (rr *RequestResponse) ContentLength() int64 { return rr.r.ContentLength }

func (rr *RequestResponse) RemoteAddr() string {
	host, _ := splitAddr(rr.r.RemoteAddr)
	return host
}

func (rr *RequestResponse) RemotePort() int {
	_, port := splitAddr(rr.r.RemoteAddr)
	return port
}

func (rr *RequestResponse) LocalAddr() string {
	host, _ := splitAddr(rr.localAddr())
	return host
}

func (rr *RequestResponse) LocalPort() int {
	_, port := splitAddr(rr.localAddr())
	return port
}

func (rr *RequestResponse) localAddr() string {
	if addr, ok := rr.r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		return addr.String()
	}
	return ""
}

func splitAddr(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}
	return host, p
}

func (rr *RequestResponse) IsReadReady() bool { return rr.input.IsReady() }

func (rr *RequestResponse) IsReadClosed() bool { return rr.input.IsFinished() }

// Read copies the next available bytes of the request body into a pooled
// buffer. It returns nil when nothing is ready and an empty last cell once
// the body has ended.
func (rr *RequestResponse) Read() (*content.Cell, error) {
	buf := rr.pool.get()
	n, err := rr.input.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		rr.pool.put(buf)
		return content.Wrap(nil, true), nil
	case err != nil:
		rr.pool.put(buf)
		return nil, err
	case n == 0:
		rr.pool.put(buf)
		return nil, nil
	}
	return content.WrapFunc(buf[:n], false, func() { rr.pool.put(buf) }), nil
}

func (rr *RequestResponse) SetReadListener(l nested.ReadListener) { rr.input.SetReadListener(l) }

func (rr *RequestResponse) CloseInput() error { return rr.input.Close() }

func (rr *RequestResponse) SetStatus(code int) {
	if !rr.sink.setStatus(code) {
		rr.log.Warn().Int("status", code).Msg("status set after response was committed")
	}
}

func (rr *RequestResponse) AddHeader(name, value string) {
	if err := rr.sink.addHeader(name, value); err != nil {
		rr.log.Warn().Err(err).Str("header", name).Msg("response header dropped")
	}
}

func (rr *RequestResponse) AddTrailer(name, value string) {
	if err := rr.sink.addTrailer(name, value); err != nil {
		rr.log.Warn().Err(err).Str("trailer", name).Msg("response trailer dropped")
	}
}

func (rr *RequestResponse) IsWriteReady() bool { return rr.output.IsReady() }

func (rr *RequestResponse) IsWriteClosed() bool { return rr.output.IsClosed() }

func (rr *RequestResponse) Write(p []byte) error { return rr.output.Write(p) }

func (rr *RequestResponse) WriteLast(last bool, cb nested.Callback, bufs ...[]byte) {
	rr.output.WriteLast(last, cb, bufs...)
}

func (rr *RequestResponse) SetWriteListener(l nested.WriteListener) { rr.output.SetWriteListener(l) }

func (rr *RequestResponse) CloseOutput() error { return rr.output.Close() }
