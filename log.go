package omnicache

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// logger backs the package-level debug trace points (block-registry
// rebuilds, consolidation passes, deserialization). It defaults to a
// disabled logger so the hot per-sample write/read path never pays for
// logging unless a caller opts in via SetLogger, matching the teacher
// monorepo's zerolog-backed logiface usage (DESIGN.md: log.go).
var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(io.Discard).Level(zerolog.Disabled)
	logger.Store(&l)
}

// SetLogger installs l as the destination for this package's debug trace
// events. Passing a logger with level <= zerolog.DebugLevel enables
// tracing of registry rebuilds, consolidation, and deserialization.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// logDebug emits a structured debug event with the given key/value pairs.
// kv must be an even-length sequence of (string key, value) pairs.
func logDebug(msg string, kv ...any) {
	l := logger.Load()
	if l.GetLevel() > zerolog.DebugLevel {
		return
	}
	ev := l.Debug()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
