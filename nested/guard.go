package nested

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Guard runs a listener callback and recovers a panic escaping it, so the
// caller's dispatch loop stays intact. It reports whether fn returned
// normally.
func Guard(log zerolog.Logger, callback string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			log.Error().
				Str("callback", callback).
				Err(fmt.Errorf("listener panic: %v", r)).
				Msg("listener callback failed")
		}
	}()
	fn()
	return true
}
