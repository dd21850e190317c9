package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// Exact attribute keys that carry secrets. Keys ending in one of
// sensitiveSuffixes are treated the same, so "kraken_api_secret" is covered
// without listing every exchange.
var (
	sensitiveKeys = map[string]struct{}{
		"secret":      {},
		"token":       {},
		"password":    {},
		"passphrase":  {},
		"key":         {},
		"credentials": {},
	}
	sensitiveSuffixes = []string{"_secret", "_token", "_password", "_passphrase", "_key"}
)

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// RedactingHandler replaces the value of every secret-named attribute,
// including ones nested in groups or produced by a slog.LogValuer, before
// the record reaches the wrapped handler.
type RedactingHandler struct {
	next slog.Handler
}

func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle never lets a panicking LogValuer take the process down; the record
// is replaced by an error record that carries no attributes from it.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			failed := slog.NewRecord(record.Time, slog.LevelError, "log record dropped: attribute panicked", record.PC)
			err = h.next.Handle(ctx, failed)
		}
	}()

	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(scrub(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = scrub(attr)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func scrub(attr slog.Attr) slog.Attr {
	if isSensitive(attr.Key) {
		return slog.String(attr.Key, redacted)
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return slog.Attr{Key: attr.Key, Value: value}
	}
	members := value.Group()
	clean := make([]slog.Attr, len(members))
	for i, member := range members {
		clean[i] = scrub(member)
	}
	return slog.Attr{Key: attr.Key, Value: slog.GroupValue(clean...)}
}
