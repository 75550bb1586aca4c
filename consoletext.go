// Package consoletext is a drop-in console-logging interceptor. It replaces
// the process's standard logging entry points (the slog default logger and
// the standard log package output) with wrapped versions that add colorized
// local output, optional best-effort shipping of log records to an HTTP
// endpoint, and capture of uncaught panics and failed detached tasks.
//
// Interception is reversible: Restore puts back exactly the functions the
// interceptor installed, leaving the process indistinguishable from one
// where the interceptor was never constructed.
//
//	tap := consoletext.New(
//	    consoletext.WithEndpoint("https://logs.example.com/ingest"),
//	    consoletext.WithAPIKey(os.Getenv("LOG_API_KEY")),
//	    consoletext.WithName("billing"),
//	    consoletext.WithAllowedLevels("error", "text"),
//	).Init()
//	defer tap.Restore()
//
//	slog.Info("started")                  // colorized locally
//	slog.Error("charge failed", "error", err) // colorized + shipped
//	consoletext.Text("hello")             // the extra "text" entry point
package consoletext

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gitlab.com/tozd/go/errors"
)

// Custom log levels extending slog.Level. The gaps between the standard
// slog values host the console-style levels that slog does not have.
const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelLog   slog.Level = -2
	LevelInfo             = slog.LevelInfo
	LevelText  slog.Level = 2
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
)

// levelNames maps level strings to slog.Level values
var levelNames = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"log":   LevelLog,
	"info":  LevelInfo,
	"text":  LevelText,
	"warn":  LevelWarn,
	"error": LevelError,
}

// reverseLevelNames maps slog.Level values to canonical string names
var reverseLevelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelLog:   "LOG",
	LevelInfo:  "INFO",
	LevelText:  "TEXT",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// levelKey returns the lowercase wire tag for a level.
func levelKey(level slog.Level) string {
	if name, ok := reverseLevelNames[level]; ok {
		return strings.ToLower(name)
	}
	return strings.ToLower(level.String())
}

// LevelFromName resolves a lowercase level name ("error", "text", ...).
func LevelFromName(name string) (slog.Level, bool) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	return level, ok
}

// Config holds the interceptor configuration. It is immutable after
// construction; UpdateConfig replaces the whole record.
type Config struct {
	// Endpoint is the remote URL shipped records are POSTed to.
	// Empty disables shipping entirely.
	Endpoint string `validate:"omitempty,url"`
	// APIKey becomes a bearer-token Authorization header when present.
	APIKey string
	// Colorize enables local color decoration (still subject to terminal
	// capability detection).
	Colorize bool
	// Silent suppresses all local output. Shipping still occurs if
	// configured.
	Silent bool
	// Name tags every shipped record and enhanced error.
	Name string
	// AllowedLevels is the set of level names eligible for shipping.
	AllowedLevels []string
	// CaptureGlobalErrors enables the CapturePanic hook.
	CaptureGlobalErrors bool
	// CaptureUnhandledRejections enables capture of errors and panics
	// from detached tasks started with Go.
	CaptureUnhandledRejections bool
	// CaptureConsoleErrors routes error-prefixed standard log lines
	// through the full pipeline so they become ship-eligible.
	CaptureConsoleErrors bool
	// AutoTraceErrors appends a local stack-trace line after error-level
	// output.
	AutoTraceErrors bool
	// EnhanceErrors toggles error enhancement.
	EnhanceErrors bool
	// HideSensitiveData masks well-known sensitive keys in shipped
	// attribute payloads.
	HideSensitiveData bool
	// MaxErrorDepth is the serialization recursion ceiling.
	MaxErrorDepth int `validate:"gte=0"`
	// Environment overrides the auto-detected server/browser tag.
	Environment string `validate:"omitempty,oneof=server browser"`
	// TimeFormat is the local output timestamp format.
	TimeFormat string
	// ShipTimeout bounds every network POST.
	ShipTimeout time.Duration
	// QueueSize is the ship queue capacity; overflow drops records.
	QueueSize int
	// ConsoleWriter overrides the local output destination. Defaults to
	// stderr; primarily useful for tests.
	ConsoleWriter io.Writer
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Colorize:                   true,
		Name:                       "console",
		AllowedLevels:              []string{"error"},
		CaptureGlobalErrors:        true,
		CaptureUnhandledRejections: true,
		CaptureConsoleErrors:       true,
		AutoTraceErrors:            true,
		EnhanceErrors:              true,
		MaxErrorDepth:              3,
		TimeFormat:                 time.RFC3339,
		ShipTimeout:                5 * time.Second,
		QueueSize:                  1000,
	}
}

var configValidator = validator.New()

// normalizeConfig fills zero values with defaults and resets invalid fields
// to their defaults. The logging path must never be the reason an
// application fails to start, so configuration is defaulted, not rejected.
func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.AllowedLevels == nil {
		cfg.AllowedLevels = append([]string(nil), def.AllowedLevels...)
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	if cfg.ShipTimeout <= 0 {
		cfg.ShipTimeout = def.ShipTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.StructField() {
				case "Endpoint":
					cfg.Endpoint = ""
				case "MaxErrorDepth":
					cfg.MaxErrorDepth = def.MaxErrorDepth
				case "Environment":
					cfg.Environment = ""
				}
			}
		}
	}
	return cfg
}

// Option is a functional option for configuring an Interceptor.
type Option func(*Config)

// WithEndpoint sets the remote shipping URL.
func WithEndpoint(url string) Option { return func(c *Config) { c.Endpoint = url } }

// WithAPIKey sets the bearer token sent with every shipped record.
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

// WithName sets the logger name attached to every shipped record.
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithAllowedLevels sets the level names eligible for shipping.
func WithAllowedLevels(levels ...string) Option {
	return func(c *Config) { c.AllowedLevels = append([]string(nil), levels...) }
}

// WithColorize enables or disables local color decoration.
func WithColorize(enabled bool) Option { return func(c *Config) { c.Colorize = enabled } }

// WithSilent suppresses all local output.
func WithSilent(silent bool) Option { return func(c *Config) { c.Silent = silent } }

// WithCaptureGlobalErrors toggles the CapturePanic hook.
func WithCaptureGlobalErrors(enabled bool) Option {
	return func(c *Config) { c.CaptureGlobalErrors = enabled }
}

// WithCaptureUnhandledRejections toggles detached-task capture.
func WithCaptureUnhandledRejections(enabled bool) Option {
	return func(c *Config) { c.CaptureUnhandledRejections = enabled }
}

// WithCaptureConsoleErrors toggles duplication of error-prefixed standard
// log lines into the shipping pipeline.
func WithCaptureConsoleErrors(enabled bool) Option {
	return func(c *Config) { c.CaptureConsoleErrors = enabled }
}

// WithAutoTraceErrors toggles the extra stack-trace line after error output.
func WithAutoTraceErrors(enabled bool) Option {
	return func(c *Config) { c.AutoTraceErrors = enabled }
}

// WithEnhanceErrors toggles error enhancement.
func WithEnhanceErrors(enabled bool) Option { return func(c *Config) { c.EnhanceErrors = enabled } }

// WithHideSensitiveData toggles masking of sensitive keys in shipped
// payloads.
func WithHideSensitiveData(enabled bool) Option {
	return func(c *Config) { c.HideSensitiveData = enabled }
}

// WithMaxErrorDepth sets the serialization recursion ceiling.
func WithMaxErrorDepth(depth int) Option { return func(c *Config) { c.MaxErrorDepth = depth } }

// WithEnvironment overrides the detected environment tag ("server" or
// "browser").
func WithEnvironment(env string) Option { return func(c *Config) { c.Environment = env } }

// WithTimeFormat sets the local output timestamp format.
func WithTimeFormat(format string) Option { return func(c *Config) { c.TimeFormat = format } }

// WithShipTimeout bounds every shipping POST.
func WithShipTimeout(d time.Duration) Option { return func(c *Config) { c.ShipTimeout = d } }

// WithQueueSize sets the ship queue capacity.
func WithQueueSize(n int) Option { return func(c *Config) { c.QueueSize = n } }

// WithConsoleWriter overrides the local output destination.
func WithConsoleWriter(w io.Writer) Option {
	return func(c *Config) { c.ConsoleWriter = w }
}

// Log logs a message at "log" level through the default logger. While an
// interceptor is installed this routes through its pipeline.
func Log(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelLog, msg, args...)
}

// Text logs a message at "text" level through the default logger. This is
// the entry point that exists solely to be remotely shippable: always
// eligible for local output, shipped only when "text" is in AllowedLevels.
func Text(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelText, msg, args...)
}

// Trace logs a message at trace level through the default logger.
func Trace(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelTrace, msg, args...)
}
