// Package transport defines the contract between the piano server and the
// transports that feed it streams. A transport owns the connection-like
// resource; the server only sees Streams.
package transport

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/status"

	"github.com/blessli/pianonest/content"
)

// ErrConnClosing is returned once a transport has been closed.
var ErrConnClosing = errors.New("transport: the connection is closing")

// ServerTransport is the common interface for all server transports.
type ServerTransport interface {
	// HandleStreams registers handle for incoming streams and blocks until
	// the transport is closed. traceCtx decorates each stream's context.
	HandleStreams(handle func(*Stream), traceCtx func(context.Context, string) context.Context) error
	// Write sends hdr followed by data on s. cb completes once the bytes were
	// handed over; the engine must not write again on s before that.
	Write(s *Stream, hdr []byte, data []byte, cb Callback)
	// WriteStatus sends the status of s and ends it. s is completed before
	// cb runs.
	WriteStatus(s *Stream, st *status.Status, cb Callback)
	Close() error
}

// Channel is the per-stream connection between the engine and whatever
// carries the bytes. Content is pulled; the channel never pushes.
type Channel interface {
	// NeedContent registers interest in more content. It returns true when
	// content can already be produced.
	NeedContent() bool
	// ProduceContent returns the next *content.Cell, a *content.Terminal, or
	// nil when nothing is available yet.
	ProduceContent() content.Content
	// FailAllContent discards buffered content after err. It reports whether
	// the input reached its end.
	FailAllContent(err error) bool
	// Failed records err as the terminal state. It reports whether the
	// engine must be rescheduled to observe it.
	Failed(err error) bool
	// EOF ends the input. It reports whether the engine must be rescheduled.
	EOF() bool
	// Send writes p with the response metadata. Status and header of resp
	// are committed by the first Send; trailers by the last one.
	Send(resp *Response, p []byte, last bool, cb Callback)
	// OnCompleted is called once when the stream is done.
	OnCompleted()
}

// Response is the metadata sent back with a stream.
type Response struct {
	Status  int
	Header  http.Header
	Trailer http.Header
}

// Callback completes an asynchronous operation.
type Callback interface {
	Succeeded()
	Failed(err error)
}

// CallbackFuncs adapts two functions to a Callback. Nil fields are skipped.
type CallbackFuncs struct {
	OnSuccess func()
	OnFailure func(err error)
}

func (c CallbackFuncs) Succeeded() {
	if c.OnSuccess != nil {
		c.OnSuccess()
	}
}

func (c CallbackFuncs) Failed(err error) {
	if c.OnFailure != nil {
		c.OnFailure(err)
	}
}

// ReadListener receives the request content of a Stream. Calls are never
// concurrent for one stream.
type ReadListener interface {
	OnDataAvailable()
	OnAllDataRead()
	OnError(err error)
}

// Executor runs engine continuations.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(fn func()) { go fn() })
