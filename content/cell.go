// Package content holds the units exchanged between the outer request and the
// embedded engine: byte cells and terminal markers.
package content

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrDoubleRelease is returned by the second and later Release of a Cell.
	ErrDoubleRelease = errors.New("content: cell released twice")
	// ErrUseAfterRelease is returned when a released Cell is consumed.
	ErrUseAfterRelease = errors.New("content: cell used after release")
)

// Content is either a *Cell or a *Terminal.
type Content interface {
	isContent()
}

// Cell is a borrowed window of bytes plus an end-of-stream flag. A Cell is
// owned by exactly one reader at a time and must be released exactly once.
type Cell struct {
	buf      []byte
	last     bool
	release  func()
	released atomic.Bool
}

// Wrap returns a Cell over b. The Cell does not copy b.
func Wrap(b []byte, last bool) *Cell {
	return &Cell{buf: b, last: last}
}

// WrapFunc is like Wrap but runs release when the Cell is released or failed.
func WrapFunc(b []byte, last bool, release func()) *Cell {
	return &Cell{buf: b, last: last, release: release}
}

func (*Cell) isContent() {}

// IsLast reports whether no content follows this cell.
func (c *Cell) IsLast() bool { return c.last }

// HasRemaining reports whether unconsumed bytes are left. A released cell has
// none.
func (c *Cell) HasRemaining() bool {
	return !c.released.Load() && len(c.buf) > 0
}

// Remaining returns the number of unconsumed bytes.
func (c *Cell) Remaining() int {
	if c.released.Load() {
		return 0
	}
	return len(c.buf)
}

// Bytes returns the unconsumed window without advancing it.
func (c *Cell) Bytes() []byte {
	if c.released.Load() {
		return nil
	}
	return c.buf
}

// Consume returns up to n bytes and advances past them.
func (c *Cell) Consume(n int) ([]byte, error) {
	if c.released.Load() {
		return nil, ErrUseAfterRelease
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	if n < 0 {
		n = 0
	}
	b := c.buf[:n:n]
	c.buf = c.buf[n:]
	return b, nil
}

// Release returns the cell's buffer to its owner. Only the first call has an
// effect; later calls report ErrDoubleRelease.
func (c *Cell) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}
	if c.release != nil {
		c.release()
	}
	return nil
}

// Fail releases a cell whose consumption failed. The buffer lifetime is the
// same as for Release.
func (c *Cell) Fail(error) error {
	return c.Release()
}

// Released reports whether Release has been called.
func (c *Cell) Released() bool { return c.released.Load() }
