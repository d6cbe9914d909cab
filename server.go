// Package piano is a small gRPC-style RPC server. It serves unary methods of
// registered services over any transport.ServerTransport; it never touches a
// socket itself.
package piano

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blessli/pianonest/transport"
)

// ErrServerStopped indicates that the operation is now illegal because of
// the server being stopped.
var ErrServerStopped = errors.New("piano: the server has been stopped")

// Server is an RPC server to serve RPC requests.
type Server struct {
	opts *Options

	mu    sync.Mutex
	conns map[transport.ServerTransport]bool
	m     map[string]*service // service name -> service info

	streamWG sync.WaitGroup
}

// service consists of the information of the server serving this service and
// the methods in this service.
type service struct {
	server interface{} // the server for service methods
	md     map[string]*MethodDesc
	mdata  interface{}
}

type methodHandler func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error)

// MethodDesc represents an RPC service's method specification.
type MethodDesc struct {
	MethodName string
	Handler    methodHandler
}

// ServiceDesc represents an RPC service's specification.
type ServiceDesc struct {
	ServiceName string
	// The pointer to the service interface. Used to check whether the user
	// provided implementation satisfies the interface requirements.
	HandlerType interface{}
	Methods     []MethodDesc
	Metadata    interface{}
}

// NewServer creates a server with no service registered and not yet serving
// any transport.
func NewServer(opt ...Option) *Server {
	opts := defaultServerOptions
	for _, o := range opt {
		o(&opts)
	}
	s := &Server{
		opts:  &opts,
		conns: make(map[transport.ServerTransport]bool),
		m:     make(map[string]*service),
	}
	return s
}

// Executor returns the executor stream processing continues on. Transports
// dispatch engine continuations to it.
func (s *Server) Executor() transport.Executor {
	return s.opts.exec
}

// RegisterService registers a service and its implementation. It must be
// called before Serve.
func (s *Server) RegisterService(sd *ServiceDesc, ss interface{}) {
	if ss != nil {
		ht := reflect.TypeOf(sd.HandlerType).Elem()
		st := reflect.TypeOf(ss)
		if !st.Implements(ht) {
			s.opts.log.Fatal().Msgf("piano: Server.RegisterService found the handler of type %v that does not satisfy %v", st, ht)
		}
	}
	s.register(sd, ss)
}

func (s *Server) register(sd *ServiceDesc, ss interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[sd.ServiceName]; ok {
		s.opts.log.Fatal().Msgf("piano: Server.RegisterService found duplicate service registration for %q", sd.ServiceName)
	}
	srv := &service{
		server: ss,
		md:     make(map[string]*MethodDesc),
		mdata:  sd.Metadata,
	}
	for i := range sd.Methods {
		d := &sd.Methods[i]
		srv.md[d.MethodName] = d
	}
	s.m[sd.ServiceName] = srv
}

// Serve handles the streams of st until st is closed. It returns
// ErrServerStopped if the server was stopped.
func (s *Server) Serve(st transport.ServerTransport) error {
	s.mu.Lock()
	if s.conns == nil {
		s.mu.Unlock()
		st.Close()
		return ErrServerStopped
	}
	s.conns[st] = true
	s.mu.Unlock()

	defer s.removeConn(st)
	return s.serveStreams(st)
}

func (s *Server) removeConn(st transport.ServerTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, st)
	}
}

func (s *Server) serveStreams(st transport.ServerTransport) error {
	err := st.HandleStreams(func(stream *transport.Stream) {
		s.streamWG.Add(1)
		stream.OnComplete(s.streamWG.Done)
		s.handleStream(st, stream, s.traceInfo(stream))
	}, s.traceCtx)
	if errors.Is(err, transport.ErrConnClosing) {
		return nil
	}
	return err
}

// Stop closes every transport and waits for the streams they carried to
// complete.
func (s *Server) Stop() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for st := range conns {
		if err := st.Close(); err != nil {
			s.opts.log.Warn().Err(err).Msg("closing transport")
		}
	}
	s.streamWG.Wait()
}

func (s *Server) handleStream(t transport.ServerTransport, stream *transport.Stream, trInfo *traceInfo) {
	sm := stream.Method()
	if sm != "" && sm[0] == '/' {
		sm = sm[1:]
	}
	pos := strings.LastIndex(sm, "/")
	if pos == -1 {
		errDesc := "malformed method name: " + stream.Method()
		trInfo.errorf("%s", errDesc)
		trInfo.finish()
		t.WriteStatus(stream, status.New(codes.Unimplemented, errDesc), nil)
		return
	}
	service := sm[:pos]
	method := sm[pos+1:]

	s.mu.Lock()
	srv, knownService := s.m[service]
	s.mu.Unlock()
	if knownService {
		if md, ok := srv.md[method]; ok {
			s.processUnaryRPC(t, stream, srv, md, trInfo)
			return
		}
	}

	var errDesc string
	if !knownService {
		errDesc = "unknown service " + service
	} else {
		errDesc = "unknown method " + method + " for service " + service
	}
	trInfo.errorf("%s", errDesc)
	trInfo.finish()
	s.opts.log.Debug().Str("method", stream.Method()).Msg(errDesc)
	t.WriteStatus(stream, status.New(codes.Unimplemented, errDesc), nil)
}

func (s *Server) processUnaryRPC(t transport.ServerTransport, stream *transport.Stream, srv *service, md *MethodDesc, trInfo *traceInfo) {
	call := &unaryCall{
		s:      s,
		t:      t,
		stream: stream,
		srv:    srv,
		md:     md,
		trInfo: trInfo,
		codec:  s.getCodec(stream.ContentSubtype()),
		log:    s.opts.log.With().Uint64("stream", stream.ID()).Str("method", stream.Method()).Logger(),
	}
	ctx := stream.Context()
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			call.finish(status.New(codes.DeadlineExceeded, ctx.Err().Error()))
		}
	})
	stream.OnComplete(func() { stop() })
	stream.SetReadListener(call)
}
