package log

import (
	"context"
	"log/slog"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// RemoteHandler ships slog records to Cloud Logging through the logging API
// instead of relying on stdout capture.
type RemoteHandler struct {
	logger *logging.Logger
	level  slog.Level
	attrs  []slog.Attr
}

// NewRemoteClient opens a Cloud Logging client for projectID and returns a handler for logID.
// The returned close func flushes buffered entries.
func NewRemoteClient(ctx context.Context, projectID, logID string, level slog.Level, opts ...option.ClientOption) (*RemoteHandler, func() error, error) {
	client, err := logging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewRemoteHandler(client.Logger(logID), level), client.Close, nil
}

func NewRemoteHandler(logger *logging.Logger, level slog.Level) *RemoteHandler {
	return &RemoteHandler{logger: logger, level: level}
}

func (h *RemoteHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *RemoteHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := make(map[string]any, len(h.attrs)+r.NumAttrs()+1)
	for _, attr := range h.attrs {
		payload[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		payload[attr.Key] = attr.Value.Any()
		return true
	})
	payload["message"] = r.Message

	// Log buffers; errors surface through the client's OnError
	h.logger.Log(logging.Entry{
		Timestamp: recordTime(r),
		Severity:  severity(r.Level),
		Payload:   payload,
		Trace:     getTraceID(ctx),
	})
	return nil
}

func (h *RemoteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &RemoteHandler{logger: h.logger, level: h.level, attrs: newAttrs}
}

func (h *RemoteHandler) WithGroup(_ string) slog.Handler {
	return h
}

func severity(level slog.Level) logging.Severity {
	return logging.ParseSeverity(severityName(level))
}
