package nested

import (
	"crypto/tls"

	"github.com/blessli/pianonest/content"
)

// ReadListener is notified about the outer request body.
type ReadListener interface {
	OnDataAvailable()
	OnAllDataRead()
	OnError(err error)
}

// WriteListener is notified when a write completes.
type WriteListener interface {
	OnWritePossible()
	OnError(err error)
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

// NoopCallback ignores completion.
var NoopCallback Callback = CallbackFuncs{}

// RequestResponse is one outer exchange as seen by the embedded engine.
type RequestResponse interface {
	StartAsync()
	// StopAsync signals that the outer exchange is fully handled.
	StopAsync()

	Method() string
	RequestURI() string
	Protocol() string
	HeaderNames() []string
	HeaderValues(name string) []string
	IsSecure() bool
	TLS() *tls.ConnectionState
	ContentLength() int64
	RemoteAddr() string
	RemotePort() int
	LocalAddr() string
	LocalPort() int

	// IsReadReady reports whether Read can return content without waiting.
	// When it returns false a demand for more content may be registered; the
	// read listener is then notified.
	IsReadReady() bool
	IsReadClosed() bool
	// Read returns the next chunk of the request body, or nil when none is
	// ready. The caller must release the returned cell.
	Read() (*content.Cell, error)
	SetReadListener(l ReadListener)
	CloseInput() error

	SetStatus(code int)
	AddHeader(name, value string)
	AddTrailer(name, value string)
	IsWriteReady() bool
	IsWriteClosed() bool
	// Write starts an asynchronous write of p. p must not be modified until
	// IsWriteReady reports true again.
	Write(p []byte) error
	// WriteLast writes bufs and completes cb. When last is set the output is
	// closed before cb runs.
	WriteLast(last bool, cb Callback, bufs ...[]byte)
	SetWriteListener(l WriteListener)
	CloseOutput() error
}
