package adapter

import "io"

// chunkWriter batches small writes into a fixed scratch buffer and hands full
// chunks to w. It is the copy path used for data that is not already held in
// a byte slice the caller gives away.
type chunkWriter struct {
	buf    []byte
	offset int
	w      io.Writer
	err    error
}

func newChunkWriter(w io.Writer, chunkSize int) *chunkWriter {
	return &chunkWriter{
		buf: make([]byte, chunkSize),
		w:   w,
	}
}

func (w *chunkWriter) Write(b []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	for len(b) > 0 {
		nn := copy(w.buf[w.offset:], b)
		b = b[nn:]
		w.offset += nn
		n += nn
		if w.offset == len(w.buf) {
			if err = w.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (w *chunkWriter) WriteString(s string) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	for len(s) > 0 {
		nn := copy(w.buf[w.offset:], s)
		s = s[nn:]
		w.offset += nn
		n += nn
		if w.offset == len(w.buf) {
			if err = w.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (w *chunkWriter) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.offset == 0 {
		return nil
	}
	_, w.err = w.w.Write(w.buf[:w.offset])
	w.offset = 0
	return w.err
}

// reset reuses the scratch buffer for another pass, clearing a previous
// failure.
func (w *chunkWriter) reset() {
	w.offset = 0
	w.err = nil
}
