package piano

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"
)

func TestSimpleParsing(t *testing.T) {
	bigMsg := bytes.Repeat([]byte{'x'}, 1<<16)
	for _, test := range []struct {
		// input
		p []byte
		// outputs
		err error
		b   []byte
		pt  payloadFormat
	}{
		{nil, io.EOF, nil, compressionNone},
		{[]byte{0, 0, 0, 0, 0}, nil, nil, compressionNone},
		{[]byte{0, 0, 0, 0, 1, 'a'}, nil, []byte{'a'}, compressionNone},
		{[]byte{1, 0}, io.ErrUnexpectedEOF, nil, compressionNone},
		{[]byte{0, 0, 0, 0, 10, 'a'}, io.ErrUnexpectedEOF, nil, compressionNone},
		{append([]byte{0, 0, 1, 0, 0}, bigMsg...), nil, bigMsg, compressionNone},
	} {
		p := &parser{r: bytes.NewReader(test.p)}
		pt, b, err := p.recvMsg(math.MaxInt32)
		if test.err != nil {
			assert.ErrorIs(t, err, test.err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, test.pt, pt)
		assert.Equal(t, test.b, b)
	}
}

func TestMultipleParsing(t *testing.T) {
	// Set a byte stream consists of three messages with their headers.
	b := []byte{0, 0, 0, 0, 1, 'a', 0, 0, 0, 0, 2, 'b', 'c', 0, 0, 0, 0, 1, 'd'}
	p := &parser{r: bytes.NewReader(b)}
	for _, want := range []string{"a", "bc", "d"} {
		pt, msg, err := p.recvMsg(math.MaxInt32)
		require.NoError(t, err)
		assert.Equal(t, compressionNone, pt)
		assert.Equal(t, want, string(msg))
	}
	_, _, err := p.recvMsg(math.MaxInt32)
	assert.ErrorIs(t, err, io.EOF)
}

func TestParsingRefusesOversizedMessage(t *testing.T) {
	p := &parser{r: bytes.NewReader([]byte{0, 0, 0, 0, 9})}
	_, _, err := p.recvMsg(8)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestMsgHeader(t *testing.T) {
	hdr, data := msgHeader([]byte("abc"), nil)
	assert.Equal(t, []byte{0, 0, 0, 0, 3}, hdr)
	assert.Equal(t, "abc", string(data))

	hdr, data = msgHeader([]byte("abc"), []byte("zz"))
	assert.Equal(t, []byte{1, 0, 0, 0, 2}, hdr)
	assert.Equal(t, "zz", string(data))
}

func TestCompressRoundTrip(t *testing.T) {
	cp := encoding.GetCompressor(gzip.Name)
	require.NotNil(t, cp)
	in := bytes.Repeat([]byte("piano "), 100)

	out, err := compress(in, cp)
	require.NoError(t, err)
	assert.Less(t, len(out), len(in))

	back, err := decompress(out, cp, len(in))
	require.NoError(t, err)
	assert.Equal(t, in, back)

	_, err = decompress(out, cp, len(in)-1)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	none, err := compress(in, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCheckRecvPayload(t *testing.T) {
	assert.Nil(t, checkRecvPayload(compressionNone, ""))
	assert.Nil(t, checkRecvPayload(compressionMade, gzip.Name))
	assert.Equal(t, codes.Internal, checkRecvPayload(compressionMade, "").Code())
	assert.Equal(t, codes.Internal, checkRecvPayload(compressionMade, "identity").Code())
	assert.Equal(t, codes.Unimplemented, checkRecvPayload(compressionMade, "lz4").Code())
	assert.Equal(t, codes.Internal, checkRecvPayload(payloadFormat(7), "").Code())
}

func TestToRPCErr(t *testing.T) {
	assert.NoError(t, toRPCErr(nil))
	assert.Equal(t, io.EOF, toRPCErr(io.EOF))
	assert.Equal(t, codes.Internal, status.Code(toRPCErr(io.ErrUnexpectedEOF)))
	assert.Equal(t, codes.Unknown, status.Code(toRPCErr(io.ErrClosedPipe)))
	assert.Equal(t, codes.NotFound, status.Code(toRPCErr(status.Error(codes.NotFound, "x"))))
}

func TestMethodFamily(t *testing.T) {
	assert.Equal(t, "test.EchoService", methodFamily("/test.EchoService/Echo"))
	assert.Equal(t, "svc", methodFamily("svc/m"))
	assert.Equal(t, "plain", methodFamily("plain"))
}
