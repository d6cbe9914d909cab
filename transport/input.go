package transport

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/blessli/pianonest/content"
	"github.com/blessli/pianonest/nested"
)

// Input is the engine side of a stream's request content. It pulls content
// from a Channel and drives the stream's ReadListener. Listener calls are
// serialized: a Handle arriving while another runs is folded into it.
type Input struct {
	ch  Channel
	log zerolog.Logger

	mu        sync.Mutex
	cell      *content.Cell
	terminal  *content.Terminal
	listener  ReadListener
	waiting   bool // interest registered, no content produced yet
	delivered bool // terminal callback done
	running   bool
	again     bool
	closed    bool
}

func newInput(ch Channel, log zerolog.Logger) *Input {
	return &Input{ch: ch, log: log}
}

// SetReadListener registers l and delivers whatever is already available
// on the calling goroutine.
func (in *Input) SetReadListener(l ReadListener) {
	in.mu.Lock()
	in.listener = l
	in.mu.Unlock()
	in.Handle()
}

// IsReady reports whether Read returns bytes without waiting. When it
// returns false and no terminal state was reached, interest in more content
// is registered and OnContentProducible will report the wakeup.
func (in *Input) IsReady() bool {
	for {
		in.mu.Lock()
		if in.cell != nil {
			if in.cell.HasRemaining() {
				in.mu.Unlock()
				return true
			}
			in.releaseLocked()
		}
		if in.terminal != nil || in.closed {
			in.mu.Unlock()
			return false
		}
		in.waiting = true
		in.mu.Unlock()

		switch c := in.ch.ProduceContent().(type) {
		case *content.Cell:
			in.mu.Lock()
			in.waiting = false
			in.cell = c
			in.mu.Unlock()
		case *content.Terminal:
			in.mu.Lock()
			in.waiting = false
			if in.terminal == nil {
				in.terminal = c
			}
			in.mu.Unlock()
			return false
		default:
			if !in.ch.NeedContent() {
				return false
			}
			// Content showed up while registering. Go on unless a wakeup
			// already claimed it; that one reschedules Handle.
			if !in.OnContentProducible() {
				return false
			}
		}
	}
}

// Read copies available bytes into p. It returns 0 and a nil error when
// nothing is available yet, io.EOF after the end of the content and the
// failure after an error.
func (in *Input) Read(p []byte) (int, error) {
	if !in.IsReady() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if in.terminal != nil {
			return 0, in.terminal.Err()
		}
		if in.closed {
			return 0, ErrConnClosing
		}
		return 0, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cell == nil {
		return 0, nil
	}
	b, err := in.cell.Consume(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// OnContentProducible claims the pending wakeup. It returns true when the
// engine was waiting for content and must be rescheduled.
func (in *Input) OnContentProducible() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.waiting {
		return false
	}
	in.waiting = false
	return true
}

// Handle delivers OnDataAvailable when content is ready, then the terminal
// callback once the content is exhausted.
func (in *Input) Handle() {
	in.mu.Lock()
	if in.running {
		in.again = true
		in.mu.Unlock()
		return
	}
	in.running = true
	in.mu.Unlock()

	for {
		in.handle()

		in.mu.Lock()
		if !in.again {
			in.running = false
			in.mu.Unlock()
			return
		}
		in.again = false
		in.mu.Unlock()
	}
}

func (in *Input) handle() {
	in.mu.Lock()
	l := in.listener
	in.mu.Unlock()
	if l == nil {
		return
	}

	if in.IsReady() {
		nested.Guard(in.log, "OnDataAvailable", l.OnDataAvailable)
	}

	in.mu.Lock()
	t := in.terminal
	deliver := t != nil && !in.delivered && (in.cell == nil || !in.cell.HasRemaining())
	if deliver {
		in.delivered = true
	}
	in.mu.Unlock()
	if !deliver {
		return
	}
	if t.IsEOF() {
		nested.Guard(in.log, "OnAllDataRead", l.OnAllDataRead)
		return
	}
	nested.Guard(in.log, "OnError", func() { l.OnError(t.Err()) })
}

// Fail abandons the content after err, for instance when the engine rejects
// the request. No listener callback follows.
func (in *Input) Fail(err error) {
	in.mu.Lock()
	in.releaseLocked()
	if in.terminal == nil {
		in.terminal = content.Error(err)
	}
	in.delivered = true
	in.mu.Unlock()
	in.ch.FailAllContent(err)
}

// Close releases any held content.
func (in *Input) Close() {
	in.mu.Lock()
	in.closed = true
	in.releaseLocked()
	in.mu.Unlock()
}

func (in *Input) releaseLocked() {
	if in.cell == nil {
		return
	}
	if err := in.cell.Release(); err != nil {
		in.log.Error().Err(err).Msg("releasing stream content")
	}
	in.cell = nil
}
