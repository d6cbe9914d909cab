package transport

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestDecodeTimeout(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1234S", want: 1234 * time.Second},
		{in: "1234x", wantErr: true},
		{in: "1", wantErr: true},
		{in: "123456789S", wantErr: true},
		{in: "50m", want: 50 * time.Millisecond},
		{in: "3u", want: 3 * time.Microsecond},
		{in: "7n", want: 7 * time.Nanosecond},
		{in: "2M", want: 2 * time.Minute},
		{in: "99999999H", want: time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		got, err := decodeTimeout(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContentSubtype(t *testing.T) {
	tests := []struct {
		in      string
		subtype string
		ok      bool
	}{
		{"application/grpc", "", true},
		{"application/grpc+proto", "proto", true},
		{"application/grpc;proto", "proto", true},
		{"application/grpc+JSON", "json", true},
		{"application/grpcx", "", false},
		{"application/json", "", false},
	}
	for _, tt := range tests {
		subtype, ok := contentSubtype(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.subtype, subtype, tt.in)
	}
	assert.Equal(t, "application/grpc", ContentType(""))
	assert.Equal(t, "application/grpc+proto", ContentType("proto"))
}

func TestEncodeGrpcMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Hello", "Hello"},
		{"\u0000", "%00"},
		{"%", "%25"},
		{"系统", "%E7%B3%BB%E7%BB%9F"},
		{string([]byte{0xff, 0xfe, 0xfd}), "%FF%FE%FD"},
	}
	for _, tt := range tests {
		got := encodeGrpcMessage(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, decodeGrpcMessage(got))
	}
}

func TestStatusTrailerRoundTrip(t *testing.T) {
	st := status.New(codes.NotFound, "no such user: 100%")
	h, err := StatusTrailer(st)
	require.NoError(t, err)
	assert.Equal(t, "5", h.Get("Grpc-Status"))
	assert.Equal(t, "no such user: 100%25", h.Get("Grpc-Message"))
	assert.Empty(t, h.Get("Grpc-Status-Details-Bin"))

	got, err := ParseStatus(h)
	require.NoError(t, err)
	assert.Equal(t, codes.NotFound, got.Code())
	assert.Equal(t, "no such user: 100%", got.Message())

	withDetails, err := st.WithDetails(wrapperspb.String("user 100"))
	require.NoError(t, err)
	h, err = StatusTrailer(withDetails)
	require.NoError(t, err)
	assert.NotEmpty(t, h.Get("Grpc-Status-Details-Bin"))

	h.Set("Grpc-Status", "x")
	_, err = ParseStatus(h)
	assert.Error(t, err)
}
