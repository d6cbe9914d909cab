package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/metadata"
)

// ErrHeaderSent is returned when the response header is modified after it was
// sent.
var ErrHeaderSent = errors.New("transport: the stream's header was already sent")

// Stream represents an RPC in the transport layer.
type Stream struct {
	id             uint64
	method         string
	contentSubtype string
	recvCompress   string
	ctx            context.Context
	cancel         context.CancelFunc
	ch             Channel
	input          *Input

	mu           sync.Mutex
	header       metadata.MD
	sendCompress string
	headerSent   bool
	completed    bool
	onComplete   []func()
}

// StreamConfig describes a stream to create.
type StreamConfig struct {
	ID      uint64
	Fields  []hpack.HeaderField
	Channel Channel
	Log     zerolog.Logger
}

// NewStream decodes the request header fields and returns a Stream reading
// its content from cfg.Channel. A malformed header yields a *HeaderError.
func NewStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	state := &decodeState{
		serverSide: true,
	}
	if err := state.decodeHeader(cfg.Fields); err != nil {
		return nil, err
	}

	if len(state.data.mdata) > 0 {
		ctx = metadata.NewIncomingContext(ctx, state.data.mdata)
	}
	var cancel context.CancelFunc
	if state.data.timeoutSet {
		ctx, cancel = context.WithTimeout(ctx, state.data.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	log := cfg.Log.With().Uint64("stream", cfg.ID).Str("method", state.data.method).Logger()
	return &Stream{
		id:             cfg.ID,
		method:         state.data.method,
		contentSubtype: state.data.contentSubtype,
		recvCompress:   state.data.encoding,
		ctx:            ctx,
		cancel:         cancel,
		ch:             cfg.Channel,
		input:          newInput(cfg.Channel, log),
	}, nil
}

func (s *Stream) ID() uint64 { return s.id }

// Method returns the full method name, "/service/method".
func (s *Stream) Method() string {
	return s.method
}

func (s *Stream) ContentSubtype() string {
	return s.contentSubtype
}

// RecvCompress returns the compressor name the request content uses.
func (s *Stream) RecvCompress() string { return s.recvCompress }

// SetSendCompress sets the compressor name announced in the response header.
func (s *Stream) SetSendCompress(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headerSent {
		return ErrHeaderSent
	}
	s.sendCompress = name
	return nil
}

// Context returns the stream's context. It is cancelled when the stream
// completes or fails.
func (s *Stream) Context() context.Context { return s.ctx }

// WithContext replaces the stream's context, typically with a decorated
// child of it.
func (s *Stream) WithContext(ctx context.Context) {
	s.ctx = ctx
}

func (s *Stream) Channel() Channel { return s.ch }

// SetHeader merges md into the response header.
func (s *Stream) SetHeader(md metadata.MD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headerSent {
		return ErrHeaderSent
	}
	s.header = metadata.Join(s.header, md)
	return nil
}

// HeaderSent reports whether CommitHeader was called.
func (s *Stream) HeaderSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerSent
}

// CommitHeader marks the response header as sent and returns it.
func (s *Stream) CommitHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headerSent = true

	h := make(http.Header, len(s.header)+2)
	h.Set("Content-Type", ContentType(s.contentSubtype))
	if s.sendCompress != "" {
		h.Set("Grpc-Encoding", s.sendCompress)
	}
	for k, vv := range s.header {
		if isReservedHeader(k) {
			continue
		}
		for _, v := range vv {
			h.Add(k, encodeMetadataHeader(k, v))
		}
	}
	return h
}

// IsReady reports whether Read returns bytes without waiting.
func (s *Stream) IsReady() bool { return s.input.IsReady() }

// Read reads request content without blocking; see Input.Read.
func (s *Stream) Read(p []byte) (int, error) { return s.input.Read(p) }

// SetReadListener registers l and delivers the content available so far.
func (s *Stream) SetReadListener(l ReadListener) { s.input.SetReadListener(l) }

// FailInput abandons the request content after err.
func (s *Stream) FailInput(err error) { s.input.Fail(err) }

// OnContentProducible reports whether the engine must be rescheduled to
// consume newly producible content.
func (s *Stream) OnContentProducible() bool { return s.input.OnContentProducible() }

// Handle continues the engine's processing of s. Transports dispatch it on
// the engine's Executor.
func (s *Stream) Handle() { s.input.Handle() }

// Cancel cancels the stream's context.
func (s *Stream) Cancel() { s.cancel() }

// OnComplete registers fn to run when the stream completes. fn runs at once
// if it already has.
func (s *Stream) OnComplete(fn func()) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// Complete ends the stream: its context is cancelled, held content is
// released, completion hooks run and the channel is told. Only the first
// call has an effect.
func (s *Stream) Complete() {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	fns := s.onComplete
	s.onComplete = nil
	s.mu.Unlock()

	s.cancel()
	s.input.Close()
	for _, fn := range fns {
		fn()
	}
	s.ch.OnCompleted()
}
