package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	ErrorMsgLogField  = "errorMsg"
	UserIDLogField    = "userID"
	PeerIDLogField    = "peerID"
	PathLogField      = "path"
	MessageIDLogField = "messageID"
	StepLogField      = "step"
	BackendLogField   = "backend"
)

type ctxKey struct{}

// CloudLoggingHandler is a slog.Handler that writes entries in Google Cloud structured format.
type CloudLoggingHandler struct {
	out   io.Writer
	mu    *sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

// NewCloudLoggingHandler creates a handler writing to stdout that drops records below level.
func NewCloudLoggingHandler(level slog.Level) *CloudLoggingHandler {
	return NewCloudLoggingHandlerWriter(os.Stdout, level)
}

func NewCloudLoggingHandlerWriter(out io.Writer, level slog.Level) *CloudLoggingHandler {
	return &CloudLoggingHandler{out: out, mu: &sync.Mutex{}, level: level}
}

// Handle processes log records.
func (h *CloudLoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	traceID := getTraceID(ctx)

	entry := map[string]any{
		"severity": severityName(r.Level),
		"time":     recordTime(r).Format(time.RFC3339),
		"message":  r.Message,
	}
	if traceID != "" {
		entry["logging.googleapis.com/trace"] = traceID
	}

	// handler attributes first, record attributes may override them
	for _, attr := range h.attrs {
		entry[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry[attr.Key] = attr.Value.Any()
		return true
	})

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(jsonData, '\n'))
	return err
}

func (h *CloudLoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// WithAttrs returns a new handler with additional attributes.
func (h *CloudLoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &CloudLoggingHandler{out: h.out, mu: h.mu, level: h.level, attrs: newAttrs}
}

// WithGroup returns the same handler, as grouping is not implemented.
func (h *CloudLoggingHandler) WithGroup(_ string) slog.Handler {
	return h
}

// ParseLevel maps debug, info, warn and error to slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// severityName converts slog levels to Cloud Logging severities.
func severityName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func recordTime(r slog.Record) time.Time {
	if r.Time.IsZero() {
		return time.Now()
	}
	return r.Time
}

// getTraceID extracts the Google Cloud Trace ID from the context.
func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

type traceKey struct{}

// WithTraceID attaches a Cloud Trace id which the handler adds to every entry.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.New(NewCloudLoggingHandler(slog.LevelInfo))
}

// Err is a shorthand for the error attribute used across the repo.
func Err(err error) slog.Attr {
	return slog.String(ErrorMsgLogField, err.Error())
}
