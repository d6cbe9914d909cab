package piano

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/blessli/pianonest/transport"
)

const readChunkSize = 4096

// unaryCall is one unary RPC. It collects the request as the stream's
// ReadListener and runs the handler once all of it was read.
type unaryCall struct {
	s      *Server
	t      transport.ServerTransport
	stream *transport.Stream
	srv    *service
	md     *MethodDesc
	trInfo *traceInfo
	codec  baseCodec
	log    zerolog.Logger

	buf   bytes.Buffer
	chunk []byte

	mu       sync.Mutex
	finished bool
}

func (c *unaryCall) OnDataAvailable() {
	if c.chunk == nil {
		c.chunk = make([]byte, readChunkSize)
	}
	limit := headerLen + c.s.opts.maxRecvMsgSize
	for c.stream.IsReady() {
		n, err := c.stream.Read(c.chunk)
		if err != nil {
			return
		}
		c.buf.Write(c.chunk[:n])
		if c.buf.Len() > limit {
			st := status.Newf(codes.ResourceExhausted, "grpc: received message larger than max (%d vs. %d)", c.buf.Len()-headerLen, c.s.opts.maxRecvMsgSize)
			c.stream.FailInput(st.Err())
			c.finish(st)
			return
		}
	}
}

func (c *unaryCall) OnAllDataRead() {
	if c.isFinished() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("handler panicked")
			c.finish(status.Newf(codes.Internal, "grpc: panic serving %s: %v", c.stream.Method(), r))
		}
	}()
	if st := c.process(); st != nil {
		c.finish(st)
	}
}

func (c *unaryCall) OnError(err error) {
	code := codes.Canceled
	switch {
	case errors.Is(err, transport.ErrConnClosing):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	c.log.Debug().Err(err).Msg("request read failed")
	c.finish(status.New(code, err.Error()))
}

// process decodes the request, runs the handler and starts writing the reply.
// A non-nil status ends the call right away.
func (c *unaryCall) process() *status.Status {
	p := &parser{r: bytes.NewReader(c.buf.Bytes())}
	pf, req, err := p.recvMsg(c.s.opts.maxRecvMsgSize)
	if err == io.EOF {
		return status.New(codes.Internal, "grpc: request message is missing")
	}
	if err != nil {
		return status.Convert(toRPCErr(err))
	}
	if st := checkRecvPayload(pf, c.stream.RecvCompress()); st != nil {
		return st
	}

	var cp encoding.Compressor
	if pf == compressionMade {
		cp = encoding.GetCompressor(c.stream.RecvCompress())
		if req, err = decompress(req, cp, c.s.opts.maxRecvMsgSize); err != nil {
			return status.Convert(err)
		}
	}

	df := func(v interface{}) error {
		if err := c.codec.Unmarshal(req, v); err != nil {
			return status.Errorf(codes.Internal, "grpc: error unmarshalling request: %v", err)
		}
		if c.trInfo != nil {
			c.trInfo.tr.LazyLog(&payload{sent: false, msg: v}, true)
		}
		return nil
	}
	reply, appErr := c.md.Handler(c.srv.server, c.stream.Context(), df)
	if appErr != nil {
		appStatus, ok := status.FromError(appErr)
		switch {
		case ok:
		case errors.Is(appErr, context.Canceled), errors.Is(appErr, context.DeadlineExceeded):
			appStatus = status.FromContextError(appErr)
		default:
			// Convert non-status application error to a status error with code
			// Unknown, and the error message as the status message.
			appStatus = status.New(codes.Unknown, appErr.Error())
		}
		return appStatus
	}
	if c.isFinished() {
		return nil
	}
	if c.trInfo != nil {
		c.trInfo.tr.LazyLog(&payload{sent: true, msg: reply}, true)
	}

	data, err := encode(c.codec, reply)
	if err != nil {
		return status.Convert(err)
	}
	compData, err := compress(data, cp)
	if err != nil {
		return status.Convert(err)
	}
	if cp != nil {
		if err := c.stream.SetSendCompress(cp.Name()); err != nil {
			return status.Convert(toRPCErr(err))
		}
	}
	hdr, body := msgHeader(data, compData)
	if len(body) > c.s.opts.maxSendMsgSize {
		return status.Newf(codes.ResourceExhausted, "grpc: trying to send message larger than max (%d vs. %d)", len(body), c.s.opts.maxSendMsgSize)
	}

	c.t.Write(c.stream, hdr, body, transport.CallbackFuncs{
		OnSuccess: func() { c.finish(status.New(codes.OK, "")) },
		OnFailure: func(err error) {
			c.log.Debug().Err(err).Msg("writing reply failed")
			c.finish(status.New(codes.Unavailable, err.Error()))
		},
	})
	return nil
}

func (c *unaryCall) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// finish writes st as the final status. Only the first call has an effect.
func (c *unaryCall) finish(st *status.Status) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	if c.trInfo != nil {
		if st.Code() != codes.OK {
			c.trInfo.errorf("%v", st.Message())
		}
		c.trInfo.finish()
	}
	c.log.Debug().Stringer("code", st.Code()).Msg("rpc finished")
	c.t.WriteStatus(c.stream, st, nil)
}
