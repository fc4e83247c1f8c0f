package logging

import (
	"context"
	"log/slog"
)

// mirrorHandler writes every record to the log file handler and copies the
// records the terminal mirror accepts. Mirror write failures are ignored: a
// closed stderr must not stop the log file from being written.
type mirrorHandler struct {
	file   slog.Handler
	mirror slog.Handler
}

func newMirrorHandler(file, mirror slog.Handler) slog.Handler {
	if mirror == nil {
		return file
	}
	return &mirrorHandler{file: file, mirror: mirror}
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.file.Enabled(ctx, level) || h.mirror.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.mirror.Enabled(ctx, record.Level) {
		_ = h.mirror.Handle(ctx, record.Clone())
	}
	if !h.file.Enabled(ctx, record.Level) {
		return nil
	}
	return h.file.Handle(ctx, record)
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &mirrorHandler{file: h.file.WithAttrs(attrs), mirror: h.mirror.WithAttrs(attrs)}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return &mirrorHandler{file: h.file.WithGroup(name), mirror: h.mirror.WithGroup(name)}
}
