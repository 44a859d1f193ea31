package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/srtrelay/internal/logging"
)

const eventStreamType = "text/event-stream"

// requestLogger logs every API request once it completed. SSE streams also
// log when they open, since their completion may be hours later. Rejected
// credentials are tagged so they can be filtered from the log view.
func requestLogger(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("telemetry")

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if op := ctx.Operation(); op != nil && op.OperationID != "" {
		attrs = append(attrs, slog.String("operation", op.OperationID))
	}
	if query := redactQuery(ctx.URL().RawQuery); query != "" {
		attrs = append(attrs, slog.String("query", query))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	stream := isEventStream(ctx)
	if stream {
		attrs = append(attrs, slog.Bool("sse", true))
		logger.LogAttrs(ctx.Context(), slog.LevelDebug, "SSE stream opened", attrs...)
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case status == http.StatusUnauthorized:
		attrs = append(attrs, slog.Bool("auth_failed", true))
		logger.LogAttrs(ctx.Context(), slog.LevelWarn, "HTTP request unauthorized", attrs...)
	case status >= 500:
		logger.LogAttrs(ctx.Context(), slog.LevelError, "HTTP request completed", attrs...)
	case status >= 400:
		logger.LogAttrs(ctx.Context(), slog.LevelWarn, "HTTP request completed", attrs...)
	case stream:
		logger.LogAttrs(ctx.Context(), slog.LevelInfo, "SSE stream closed", attrs...)
	default:
		logger.LogAttrs(ctx.Context(), slog.LevelInfo, "HTTP request completed", attrs...)
	}
}

// isEventStream reports whether the request is served as server-sent events.
func isEventStream(ctx huma.Context) bool {
	if op := ctx.Operation(); op != nil {
		if resp, ok := op.Responses["200"]; ok && resp != nil {
			if _, ok := resp.Content[eventStreamType]; ok {
				return true
			}
		}
	}
	return strings.Contains(ctx.Header("Accept"), eventStreamType)
}

// redactQuery masks the auth parameter EventSource clients send credentials in.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		if strings.Contains(raw, "auth=") {
			return "[unparsable]"
		}
		return raw
	}
	if _, ok := values["auth"]; !ok {
		return raw
	}
	values.Set("auth", "REDACTED")
	return values.Encode()
}
