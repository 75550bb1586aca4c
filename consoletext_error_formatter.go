package consoletext

import (
	"log/slog"
	"reflect"
	"runtime"
	"strconv"

	"github.com/fatih/color"
	slogformatter "github.com/samber/slog-formatter"
	"gitlab.com/tozd/go/errors"
)

func coloredFrames(frames *runtime.Frames) string {
	var lines []string
	for {
		frame, more := frames.Next()
		lines = append(lines, color.GreenString(frame.File)+":"+color.BlueString(strconv.Itoa(frame.Line))+": "+color.HiWhiteString(frame.Function))
		if !more || len(lines) >= maxStackFrames {
			break
		}
	}
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += " -> "
		}
		out += line
	}
	return out
}

// EnhancedErrorFormatter renders enhanced errors on the local output branch
// as a structured group instead of a flat message.
func EnhancedErrorFormatter() slogformatter.Formatter {
	return slogformatter.FormatByType(func(e *EnhancedError) slog.Value {
		attrs := []slog.Attr{
			slog.String("message", e.Message),
			slog.String("name", e.Name),
			slog.String("source", e.Source),
		}
		if e.Stack != "" {
			attrs = append(attrs, slog.String("stack", e.Stack))
		}
		return slog.GroupValue(attrs...)
	})
}

// TozdErrorFormatter formats gitlab.com/tozd/go/errors with colored
// stacktraces and structured details.
func TozdErrorFormatter() slogformatter.Formatter {
	return slogformatter.FormatByType(func(v errors.E) slog.Value {
		var attrs []slog.Attr

		attrs = append(attrs, slog.String("message", v.Error()))

		if details := errors.Details(v); len(details) > 0 {
			var detailAttrs []any
			for k, val := range details {
				detailAttrs = append(detailAttrs, slog.Any(k, val))
			}
			attrs = append(attrs, slog.Group("details", detailAttrs...))
		}

		if tracer, ok := v.(interface{ StackTrace() []uintptr }); ok {
			if trace := tracer.StackTrace(); len(trace) > 0 {
				attrs = append(attrs, slog.String("stacktrace", coloredFrames(runtime.CallersFrames(trace))))
			}
		}

		if cause := errors.Cause(v); cause != nil && cause != v {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}

		return slog.GroupValue(attrs...)
	})
}

// ErrorFormatter transforms a plain go error into a readable group with
// message, concrete type, and a stacktrace when the error carries one.
func ErrorFormatter(fieldName string) slogformatter.Formatter {
	return slogformatter.FormatByFieldType(fieldName, func(err error) slog.Value {
		values := []slog.Attr{
			slog.String("message", err.Error()),
			slog.String("type", reflect.TypeOf(err).String()),
		}
		if stack := errorStack(err); stack != "" {
			values = append(values, slog.String("stacktrace", stack))
		}
		return slog.GroupValue(values...)
	})
}
