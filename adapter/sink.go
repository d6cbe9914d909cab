package adapter

import (
	"errors"
	"net/http"
	"sync"

	"golang.org/x/net/http/httpguts"
)

// responseSink is the Sink over an http.ResponseWriter. Status and headers
// are collected until the first write or close commits them; trailers are
// applied when the sink is closed.
type responseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu        sync.Mutex
	status    int
	header    http.Header
	trailer   http.Header
	committed bool
	closed    bool
}

func newResponseSink(w http.ResponseWriter) *responseSink {
	return &responseSink{
		w:       w,
		rc:      http.NewResponseController(w),
		status:  http.StatusOK,
		header:  make(http.Header),
		trailer: make(http.Header),
	}
}

func (s *responseSink) setStatus(code int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return false
	}
	s.status = code
	return true
}

func (s *responseSink) addHeader(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return errCommitted
	}
	s.header.Add(name, value)
	return nil
}

func (s *responseSink) addTrailer(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errCommitted
	}
	s.trailer.Add(name, value)
	return nil
}

func (s *responseSink) isCommitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *responseSink) commitLocked() {
	if s.committed {
		return
	}
	s.committed = true
	h := s.w.Header()
	for name, values := range s.header {
		h[name] = append(h[name], values...)
	}
	s.w.WriteHeader(s.status)
}

func (s *responseSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.commitLocked()
	s.mu.Unlock()
	return s.w.Write(p)
}

func (s *responseSink) Flush() error {
	err := s.rc.Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

func (s *responseSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.commitLocked()
	h := s.w.Header()
	for name, values := range s.trailer {
		h[http.TrailerPrefix+name] = append(h[http.TrailerPrefix+name], values...)
	}
	s.mu.Unlock()
	return s.Flush()
}

var errCommitted = errors.New("response already committed")

func validField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return errors.New("invalid header field name " + name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return errors.New("invalid header field value for " + name)
	}
	return nil
}
