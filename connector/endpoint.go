package connector

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/blessli/pianonest/nested"
)

// nestedAddr is the address of one side of an exchange. There is no socket
// behind it; the outer server reported it.
type nestedAddr struct {
	host string
	port int
}

func (a nestedAddr) Network() string { return "nested" }

func (a nestedAddr) String() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

// Endpoint is the pseudo connection of one exchange. It lives exactly as long
// as the outer request it wraps.
type Endpoint struct {
	id     uint64
	rr     nested.RequestResponse
	local  nestedAddr
	remote nestedAddr
}

func newEndpoint(id uint64, rr nested.RequestResponse) *Endpoint {
	return &Endpoint{
		id:     id,
		rr:     rr,
		local:  nestedAddr{host: rr.LocalAddr(), port: rr.LocalPort()},
		remote: nestedAddr{host: rr.RemoteAddr(), port: rr.RemotePort()},
	}
}

func (e *Endpoint) ID() uint64 { return e.id }

func (e *Endpoint) LocalAddr() net.Addr { return e.local }

func (e *Endpoint) RemoteAddr() net.Addr { return e.remote }

func (e *Endpoint) RequestResponse() nested.RequestResponse { return e.rr }

func (e *Endpoint) String() string {
	return fmt.Sprintf("nested#%d{%s<->%s}", e.id, e.remote, e.local)
}

func (e *Endpoint) peer() *peer.Peer {
	p := &peer.Peer{Addr: e.remote}
	if cs := e.rr.TLS(); cs != nil {
		p.AuthInfo = credentials.TLSInfo{
			State:          *cs,
			CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.PrivacyAndIntegrity},
		}
	}
	return p
}

// headerFields renders the outer request line and header as the field list a
// transport stream is decoded from.
func (e *Endpoint) headerFields() []hpack.HeaderField {
	scheme := "http"
	if e.rr.IsSecure() {
		scheme = "https"
	}
	path := e.rr.RequestURI()
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	fields := []hpack.HeaderField{
		{Name: ":method", Value: e.rr.Method()},
		{Name: ":scheme", Value: scheme},
		{Name: ":path", Value: path},
	}
	for _, name := range e.rr.HeaderNames() {
		values := e.rr.HeaderValues(name)
		if http.CanonicalHeaderKey(name) == "Host" {
			if len(values) > 0 {
				fields = append(fields, hpack.HeaderField{Name: ":authority", Value: values[0]})
			}
			continue
		}
		lower := strings.ToLower(name)
		for _, v := range values {
			fields = append(fields, hpack.HeaderField{Name: lower, Value: v})
		}
	}
	return fields
}
