package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Indirection for tests: capturing stdout without touching the real fd.
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// Dynamic state callbacks. When set, every record carries the current
	// value so a log line can be placed without cross-referencing state.
	ActiveRuns        func() int
	UsingLocalArchive func() bool
	HostLinked        func() bool
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system with file and optional OTel output.
// If provider is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	// Build list of handlers. Console output only when no log file is
	// configured; the host already relays file logs to its own console.
	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	// OTel handler (if provider is available)
	if provider != nil {
		otelHandler := otelslog.NewHandler("encounterd", otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	// Combine all handlers, then layer the dynamic state attributes on top.
	multiHandler := NewMultiHandler(handlers...)

	m.logger = slog.New(NewContextHandler(multiHandler, m.contextAttrs))
	m.logger.Info("Logging initialized", "level", level)
}

func (m *SlogManager) contextAttrs() []slog.Attr {
	var attrs []slog.Attr
	if m.ActiveRuns != nil {
		attrs = append(attrs, slog.Int("activeRuns", m.ActiveRuns()))
	}
	if m.UsingLocalArchive != nil && m.UsingLocalArchive() {
		attrs = append(attrs, slog.Bool("localArchive", true))
	}
	if m.HostLinked != nil {
		attrs = append(attrs, slog.Bool("hostLinked", m.HostLinked()))
	}
	return attrs
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// WriteLog writes a log entry at a level named by the host callback. Host
// code passes levels as strings, so this keeps the bridge dumb.
func (m *SlogManager) WriteLog(source, data, level string) {
	if m.logger == nil {
		return
	}

	switch parseLevel(level) {
	case slog.LevelDebug:
		m.logger.Debug(data, "source", source)
	case slog.LevelWarn:
		m.logger.Warn(data, "source", source)
	case slog.LevelError:
		m.logger.Error(data, "source", source)
	default:
		m.logger.Info(data, "source", source)
	}
}

