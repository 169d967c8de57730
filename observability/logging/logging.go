package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type setupConfig struct {
	level    slog.Level
	output   io.Writer
	file     *lumberjack.Logger
	redacted map[string]struct{}
}

// Option adjusts Setup.
type Option func(*setupConfig)

// WithLevel sets the minimum level emitted.
func WithLevel(level slog.Level) Option {
	return func(c *setupConfig) { c.level = level }
}

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) Option {
	return func(c *setupConfig) {
		if w != nil {
			c.output = w
		}
	}
}

// WithFile mirrors every line into a size-rotated file.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(c *setupConfig) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		c.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}
}

// WithRedactedKeys masks the values of the named attributes.
func WithRedactedKeys(keys ...string) Option {
	return func(c *setupConfig) {
		for _, key := range keys {
			normalized := strings.ToLower(strings.TrimSpace(key))
			if normalized == "" || IsAllowlisted(normalized) {
				continue
			}
			c.redacted[normalized] = struct{}{}
		}
	}
}

// ParseLevel maps debug/info/warn/error onto slog levels, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := &setupConfig{
		level:    slog.LevelInfo,
		output:   os.Stdout,
		redacted: map[string]struct{}{"authorization": {}, "token": {}, "secret": {}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	out := cfg.output
	if cfg.file != nil {
		out = io.MultiWriter(cfg.output, cfg.file)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			if _, ok := cfg.redacted[strings.ToLower(attr.Key)]; ok {
				return MaskField(attr.Key, attr.Value.String())
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
