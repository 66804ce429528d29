package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// jsonKeys renames slog's built-in keys for the machine-readable format.
var jsonKeys = map[string]string{
	slog.TimeKey:    "ts",
	slog.LevelKey:   "level",
	slog.MessageKey: "msg",
	slog.SourceKey:  "source",
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	key, builtin := jsonKeys[attr.Key]
	if !builtin {
		return attr
	}
	value := attr.Value
	switch attr.Key {
	case slog.TimeKey:
		if value.Kind() == slog.KindTime {
			value = slog.StringValue(value.Time().UTC().Format(time.RFC3339Nano))
		}
	case slog.LevelKey:
		value = slog.StringValue(strings.ToLower(value.String()))
	case slog.SourceKey:
		if src, ok := value.Any().(*slog.Source); ok && src != nil {
			value = slog.StringValue(filepath.Base(src.File) + ":" + strconv.Itoa(src.Line))
		}
	}
	return slog.Attr{Key: key, Value: value}
}
