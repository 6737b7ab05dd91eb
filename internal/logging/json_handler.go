package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"
)

// newJSONHandler emits one object per record with "ts", a lowercase "level",
// and "src" as file:line. Values pass through redact.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	replace := func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
		case slog.LevelKey:
			return slog.String(slog.LevelKey, levelName(a.Value.Any().(slog.Level)))
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
				return slog.String("src", filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
			}
			return a
		}
		a.Value = redact(a.Key, a.Value)
		return a
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: addSource, ReplaceAttr: replace})
}
