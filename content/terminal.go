package content

import "io"

// Terminal marks the end of a content stream, either a clean end-of-stream or
// a failure. Once observed it is cached and returned for every later query.
type Terminal struct {
	err error
}

var eofMarker = &Terminal{}

// EOF returns the end-of-stream marker.
func EOF() *Terminal { return eofMarker }

// Error returns a failure marker carrying err. A nil err yields EOF.
func Error(err error) *Terminal {
	if err == nil {
		return eofMarker
	}
	return &Terminal{err: err}
}

func (*Terminal) isContent() {}

// IsEOF reports whether t is a clean end-of-stream.
func (t *Terminal) IsEOF() bool { return t.err == nil }

// Err returns the failure cause, or io.EOF for a clean end-of-stream.
func (t *Terminal) Err() error {
	if t.err == nil {
		return io.EOF
	}
	return t.err
}

func (t *Terminal) String() string {
	if t.err == nil {
		return "EOF"
	}
	return "Error(" + t.err.Error() + ")"
}
