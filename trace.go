package piano

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/trace"
	"google.golang.org/grpc/peer"

	"github.com/blessli/pianonest/transport"
)

// methodFamily returns the trace family for the given method.
// It turns "/pkg.Service/GetFoo" into "pkg.Service".
func methodFamily(m string) string {
	m = strings.TrimPrefix(m, "/") // remove leading slash
	if i := strings.Index(m, "/"); i >= 0 {
		m = m[:i] // remove everything from second slash
	}
	return m
}

// traceInfo contains tracing information for an RPC.
type traceInfo struct {
	tr        trace.Trace
	firstLine firstLine
}

// firstLine is the first line of an RPC trace.
type firstLine struct {
	remoteAddr net.Addr
	deadline   time.Duration // may be zero
}

func (f *firstLine) String() string {
	var line bytes.Buffer
	line.WriteString("RPC: from ")
	if f.remoteAddr != nil {
		line.WriteString(f.remoteAddr.String())
	} else {
		line.WriteString("unknown")
	}
	if f.deadline != 0 {
		fmt.Fprintf(&line, " deadline:%v", f.deadline)
	}
	return line.String()
}

// payload represents an RPC request or response payload.
type payload struct {
	sent bool        // whether this is an outgoing payload
	msg  interface{} // e.g. a proto.Message
}

func (p payload) String() string {
	if p.sent {
		return fmt.Sprintf("sent: %v", p.msg)
	}
	return fmt.Sprintf("recv: %v", p.msg)
}

// traceCtx starts a trace for a new stream when tracing is enabled.
func (s *Server) traceCtx(ctx context.Context, method string) context.Context {
	if !s.opts.enableTracing {
		return ctx
	}
	tr := trace.New("grpc.Recv."+methodFamily(method), method)
	return trace.NewContext(ctx, tr)
}

func (s *Server) traceInfo(stream *transport.Stream) *traceInfo {
	if !s.opts.enableTracing {
		return nil
	}
	tr, ok := trace.FromContext(stream.Context())
	if !ok {
		return nil
	}
	trInfo := &traceInfo{tr: tr}
	if p, ok := peer.FromContext(stream.Context()); ok {
		trInfo.firstLine.remoteAddr = p.Addr
	}
	if dl, ok := stream.Context().Deadline(); ok {
		trInfo.firstLine.deadline = time.Until(dl)
	}
	trInfo.tr.LazyLog(&trInfo.firstLine, false)
	return trInfo
}

func (t *traceInfo) errorf(format string, a ...interface{}) {
	if t == nil {
		return
	}
	t.tr.LazyPrintf(format, a...)
	t.tr.SetError()
}

func (t *traceInfo) finish() {
	if t == nil {
		return
	}
	t.tr.Finish()
}
