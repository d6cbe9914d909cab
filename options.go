package piano

import (
	"math"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/encoding"

	"github.com/blessli/pianonest/transport"
)

const (
	defaultServerMaxReceiveMessageSize = 1024 * 1024 * 4
	defaultServerMaxSendMessageSize    = math.MaxInt32
)

// Options holds the server configuration set through Option functions.
type Options struct {
	codec          baseCodec
	maxRecvMsgSize int
	maxSendMsgSize int
	enableTracing  bool
	log            zerolog.Logger
	exec           transport.Executor
}

var defaultServerOptions = Options{
	maxRecvMsgSize: defaultServerMaxReceiveMessageSize,
	maxSendMsgSize: defaultServerMaxSendMessageSize,
	log:            zerolog.Nop(),
	exec:           transport.GoExecutor,
}

// An Option sets options such as the codec or message size limits.
type Option func(*Options)

// WithCodec forces codec for every request, regardless of its content
// subtype.
func WithCodec(codec encoding.Codec) Option {
	return func(o *Options) {
		o.codec = codec
	}
}

// MaxRecvMsgSize sets the largest request message, in bytes, the server
// accepts.
func MaxRecvMsgSize(m int) Option {
	return func(o *Options) {
		o.maxRecvMsgSize = m
	}
}

// MaxSendMsgSize sets the largest reply message, in bytes, the server sends.
func MaxSendMsgSize(m int) Option {
	return func(o *Options) {
		o.maxSendMsgSize = m
	}
}

// EnableTracing records every RPC with golang.org/x/net/trace.
func EnableTracing(enable bool) Option {
	return func(o *Options) {
		o.enableTracing = enable
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) {
		o.log = log
	}
}

// WithExecutor sets where stream processing continues after it was
// suspended waiting for request content.
func WithExecutor(exec transport.Executor) Option {
	return func(o *Options) {
		o.exec = exec
	}
}
