package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// InitLogger creates a structured JSON logger that writes to stderr.
// When PODCAST_LOG_FILE is set, log events are mirrored to a rotating
// file sink as well, so the stage runner can tail a single run's logs
// independently of whatever is consuming stderr.
func InitLogger() *slog.Logger {
	stderrHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	var handler slog.Handler = &traceHandler{inner: stderrHandler}

	if logFile := os.Getenv("PODCAST_LOG_FILE"); logFile != "" {
		fileHandler, err := newRotatingFileHandler(logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARN: failed to init file logger: %v\n", err)
		} else {
			handler = &multiHandler{
				handlers: []slog.Handler{
					&traceHandler{inner: stderrHandler},
					&traceHandler{inner: fileHandler},
				},
			}
		}
	}

	return slog.New(handler)
}

// rotatingFileHandler is a slog.Handler that appends JSON log events to a
// file, rotating it to "<path>.1" once it crosses maxFileBytes.
type rotatingFileHandler struct {
	path         string
	maxFileBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
}

const defaultMaxLogFileBytes = 50 * 1024 * 1024

func newRotatingFileHandler(path string) (*rotatingFileHandler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file %s: %w", path, err)
	}
	return &rotatingFileHandler{
		path:         path,
		maxFileBytes: defaultMaxLogFileBytes,
		file:         f,
		size:         info.Size(),
	}, nil
}

func (h *rotatingFileHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *rotatingFileHandler) Handle(_ context.Context, r slog.Record) error {
	record := map[string]any{
		"time":  r.Time,
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		record[a.Key] = a.Value.Any()
		return true
	})

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size+int64(len(line)) > h.maxFileBytes {
		if err := h.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: log rotation failed: %v\n", err)
		}
	}

	n, err := h.file.Write(line)
	h.size += int64(n)
	if err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

func (h *rotatingFileHandler) rotateLocked() error {
	if err := h.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(h.path, h.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.file = f
	h.size = 0
	return nil
}

func (h *rotatingFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *rotatingFileHandler) WithGroup(name string) slog.Handler {
	return h
}

// traceHandler wraps a slog.Handler to inject trace_id and span_id from context.
type traceHandler struct {
	inner slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{inner: h.inner.WithGroup(name)}
}

// multiHandler fans out to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			handler.Handle(ctx, r)
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
