package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2/hpack"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

const baseContentType = "application/grpc"

// HeaderError is a request header the transport refuses before a stream is
// created. Status is the HTTP status it is answered with.
type HeaderError struct {
	Status int
	Msg    string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("transport: %s (HTTP %d)", e.Msg, e.Status)
}

type decodeState struct {
	// whether decoding on server side or not
	serverSide bool

	// Records the states during header decoding. It will be filled with info
	// parsed from the request header fields once decodeHeader has returned.
	data parsedHeaderData
}

type parsedHeaderData struct {
	encoding       string
	httpMethod     string
	method         string
	isGRPC         bool
	contentSubtype string
	timeoutSet     bool
	timeout        time.Duration
	mdata          metadata.MD
}

func (d *decodeState) decodeHeader(fields []hpack.HeaderField) error {
	for _, hf := range fields {
		if err := d.processHeaderField(hf); err != nil {
			return err
		}
	}
	if d.serverSide && d.data.httpMethod != http.MethodPost {
		return &HeaderError{Status: http.StatusMethodNotAllowed, Msg: fmt.Sprintf("invalid gRPC request method %q", d.data.httpMethod)}
	}
	if !d.data.isGRPC {
		return &HeaderError{Status: http.StatusUnsupportedMediaType, Msg: "missing or invalid gRPC content-type"}
	}
	if d.data.method == "" {
		return &HeaderError{Status: http.StatusBadRequest, Msg: "missing :path"}
	}
	return nil
}

func (d *decodeState) addMetadata(k, v string) {
	if d.data.mdata == nil {
		d.data.mdata = make(metadata.MD)
	}
	d.data.mdata[k] = append(d.data.mdata[k], v)
}

func (d *decodeState) processHeaderField(f hpack.HeaderField) error {
	switch f.Name {
	case "content-type":
		subtype, ok := contentSubtype(f.Value)
		if !ok {
			return &HeaderError{Status: http.StatusUnsupportedMediaType, Msg: fmt.Sprintf("invalid gRPC request content-type %q", f.Value)}
		}
		d.data.contentSubtype = subtype
		// The content-type is kept in the metadata, as grpc does.
		d.addMetadata(f.Name, f.Value)
		d.data.isGRPC = true
	case "grpc-encoding":
		d.data.encoding = f.Value
	case "grpc-timeout":
		d.data.timeoutSet = true
		var err error
		if d.data.timeout, err = decodeTimeout(f.Value); err != nil {
			return &HeaderError{Status: http.StatusBadRequest, Msg: fmt.Sprintf("malformed grpc-timeout: %v", err)}
		}
	case ":method":
		d.data.httpMethod = f.Value
	case ":path":
		d.data.method = f.Value
	default:
		if isReservedHeader(f.Name) {
			break
		}
		v, err := decodeMetadataHeader(f.Name, f.Value)
		if err != nil {
			return &HeaderError{Status: http.StatusBadRequest, Msg: fmt.Sprintf("failed to decode metadata header (%q, %q): %v", f.Name, f.Value, err)}
		}
		d.addMetadata(f.Name, v)
	}
	return nil
}

// contentSubtype returns the subtype of an "application/grpc[+subtype]"
// content type, lowercased.
func contentSubtype(contentType string) (string, bool) {
	if contentType == baseContentType {
		return "", true
	}
	if !strings.HasPrefix(contentType, baseContentType) {
		return "", false
	}
	switch contentType[len(baseContentType)] {
	case '+', ';':
		// The subtype is always lowercase; it is how codecs are registered.
		return strings.ToLower(contentType[len(baseContentType)+1:]), true
	default:
		return "", false
	}
}

// ContentType returns the content type for a subtype.
func ContentType(contentSubtype string) string {
	if contentSubtype == "" {
		return baseContentType
	}
	return baseContentType + "+" + contentSubtype
}

// isReservedHeader reports whether hdr belongs to the transport and is not
// passed on as metadata.
func isReservedHeader(hdr string) bool {
	if hdr != "" && hdr[0] == ':' {
		return true
	}
	switch hdr {
	case "content-type",
		"user-agent",
		"grpc-message-type",
		"grpc-encoding",
		"grpc-message",
		"grpc-status",
		"grpc-timeout",
		"grpc-status-details-bin",
		"te":
		return true
	default:
		return false
	}
}

const binHdrSuffix = "-bin"

func decodeBinHeader(v string) ([]byte, error) {
	if len(v)%4 == 0 {
		// Input was padded, or padding was not necessary.
		return base64.StdEncoding.DecodeString(v)
	}
	return base64.RawStdEncoding.DecodeString(v)
}

func decodeMetadataHeader(k, v string) (string, error) {
	if strings.HasSuffix(k, binHdrSuffix) {
		b, err := decodeBinHeader(v)
		return string(b), err
	}
	return v, nil
}

func encodeBinHeader(v []byte) string {
	return base64.RawStdEncoding.EncodeToString(v)
}

func encodeMetadataHeader(k, v string) string {
	if strings.HasSuffix(k, binHdrSuffix) {
		return encodeBinHeader([]byte(v))
	}
	return v
}

type timeoutUnit uint8

const (
	hour        timeoutUnit = 'H'
	minute      timeoutUnit = 'M'
	second      timeoutUnit = 'S'
	millisecond timeoutUnit = 'm'
	microsecond timeoutUnit = 'u'
	nanosecond  timeoutUnit = 'n'
)

func timeoutUnitToDuration(u timeoutUnit) (d time.Duration, ok bool) {
	switch u {
	case hour:
		return time.Hour, true
	case minute:
		return time.Minute, true
	case second:
		return time.Second, true
	case millisecond:
		return time.Millisecond, true
	case microsecond:
		return time.Microsecond, true
	case nanosecond:
		return time.Nanosecond, true
	default:
	}
	return
}

func decodeTimeout(s string) (time.Duration, error) {
	size := len(s)
	if size < 2 {
		return 0, fmt.Errorf("transport: timeout string is too short: %q", s)
	}
	if size > 9 {
		// At most 8 digits plus the unit.
		return 0, fmt.Errorf("transport: timeout string is too long: %q", s)
	}
	unit := timeoutUnit(s[size-1])
	d, ok := timeoutUnitToDuration(unit)
	if !ok {
		return 0, fmt.Errorf("transport: timeout unit is not recognized: %q", s)
	}
	t, err := strconv.ParseInt(s[:size-1], 10, 64)
	if err != nil {
		return 0, err
	}
	const maxHours = math.MaxInt64 / int64(time.Hour)
	if d == time.Hour && t > maxHours {
		return time.Duration(math.MaxInt64), nil
	}
	return d * time.Duration(t), nil
}

const (
	spaceByte   = ' '
	tildeByte   = '~'
	percentByte = '%'
)

// encodeGrpcMessage percent-encodes msg for the grpc-message trailer: every
// byte outside printable ASCII, and '%' itself, becomes %XX.
func encodeGrpcMessage(msg string) string {
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if !(c >= spaceByte && c <= tildeByte && c != percentByte) {
			return encodeGrpcMessageUnchecked(msg)
		}
	}
	return msg
}

func encodeGrpcMessageUnchecked(msg string) string {
	var sb strings.Builder
	sb.Grow(len(msg) * 3)
	for i := 0; i < len(msg); i++ {
		b := msg[i]
		if b >= spaceByte && b <= tildeByte && b != percentByte {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}

// decodeGrpcMessage reverses encodeGrpcMessage.
func decodeGrpcMessage(msg string) string {
	if !strings.ContainsRune(msg, percentByte) {
		return msg
	}
	var buf bytes.Buffer
	for i := 0; i < len(msg); i++ {
		if msg[i] == percentByte && i+2 < len(msg) {
			parsed, err := strconv.ParseUint(msg[i+1:i+3], 16, 8)
			if err != nil {
				buf.WriteByte(msg[i])
				continue
			}
			buf.WriteByte(byte(parsed))
			i += 2
			continue
		}
		buf.WriteByte(msg[i])
	}
	return buf.String()
}

// StatusTrailer renders st as the grpc-status, grpc-message and
// grpc-status-details-bin trailer fields.
func StatusTrailer(st *status.Status) (http.Header, error) {
	h := make(http.Header)
	h.Set("Grpc-Status", strconv.Itoa(int(st.Code())))
	if m := st.Message(); m != "" {
		h.Set("Grpc-Message", encodeGrpcMessage(m))
	}
	if p := st.Proto(); p != nil && len(p.Details) > 0 {
		stBytes, err := proto.Marshal(p)
		if err != nil {
			return h, fmt.Errorf("transport: failed to marshal status details: %w", err)
		}
		h.Set("Grpc-Status-Details-Bin", encodeBinHeader(stBytes))
	}
	return h, nil
}

// ParseStatus reads a status back from grpc-status and grpc-message fields.
func ParseStatus(h http.Header) (*status.Status, error) {
	v := h.Get("Grpc-Status")
	code, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("transport: malformed grpc-status %q: %w", v, err)
	}
	return status.New(codes.Code(code), decodeGrpcMessage(h.Get("Grpc-Message"))), nil
}
