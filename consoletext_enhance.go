package consoletext

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// modulePrefix identifies this module's own frames in stack traces. The
// trailing dot keeps _test packages out of the match.
const modulePrefix = "web5lab/consoletext."

const maxStackFrames = 20

// EnhancedError is a derived, non-owning view over an original error or
// rejection reason. It never replaces or mutates the value held by caller
// code; it is a new record consumed only by the logging path.
type EnhancedError struct {
	Source      string         `json:"source"`
	Name        string         `json:"name"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Logger      string         `json:"logger"`
	Environment string         `json:"environment"`
	Context     map[string]any `json:"context"`
	Stack       string         `json:"stack,omitempty"`

	cause error
}

func (e *EnhancedError) Error() string { return e.Message }

// Unwrap exposes the original error so errors.Is/As keep working.
func (e *EnhancedError) Unwrap() error { return e.cause }

// Enhance augments err with contextual fields under the given source tag.
// If enhancement is disabled by configuration the input is returned
// unchanged. The input is never mutated.
func (i *Interceptor) Enhance(err error, source string) error {
	if err == nil || !i.cfg.EnhanceErrors {
		return err
	}
	if enhanced, ok := err.(*EnhancedError); ok {
		return enhanced
	}
	return &EnhancedError{
		Source:      source,
		Name:        fmt.Sprintf("%T", err),
		Message:     err.Error(),
		Timestamp:   time.Now(),
		Logger:      i.cfg.Name,
		Environment: i.env.Tag(),
		Context:     i.env.Metadata(),
		Stack:       cleanStack(errorStack(err)),
		cause:       err,
	}
}

// enhanceReason builds an EnhancedError from an arbitrary thrown or
// rejected value. Non-error reasons synthesize a minimal record; the stack
// is freshly captured only when auto-trace is enabled.
func (i *Interceptor) enhanceReason(v any, source string) *EnhancedError {
	if err, ok := v.(error); ok {
		if enhanced, ok := i.Enhance(err, source).(*EnhancedError); ok {
			return enhanced
		}
		// Enhancement disabled: the capture paths still need a record.
		return &EnhancedError{
			Source:      source,
			Name:        fmt.Sprintf("%T", err),
			Message:     err.Error(),
			Timestamp:   time.Now(),
			Logger:      i.cfg.Name,
			Environment: i.env.Tag(),
			Context:     i.env.Metadata(),
			cause:       err,
		}
	}
	enhanced := &EnhancedError{
		Source:      source,
		Name:        "UnhandledRejection",
		Message:     fmt.Sprint(v),
		Timestamp:   time.Now(),
		Logger:      i.cfg.Name,
		Environment: i.env.Tag(),
		Context:     i.env.Metadata(),
	}
	if i.cfg.AutoTraceErrors {
		enhanced.Stack = cleanStack(captureStack(4))
	}
	return enhanced
}

// errorStack extracts a formatted stack from err without capturing a new
// one: enhanced errors carry their own, tozd errors expose StackTrace().
func errorStack(err error) string {
	if enhanced, ok := err.(*EnhancedError); ok {
		return enhanced.Stack
	}
	var tracer interface{ StackTrace() []uintptr }
	if errors.As(err, &tracer) {
		trace := tracer.StackTrace()
		if len(trace) > 0 {
			return formatFrames(runtime.CallersFrames(trace))
		}
	}
	return ""
}

// captureStack records the current goroutine's stack, skipping the given
// number of frames.
func captureStack(skip int) string {
	pcs := make([]uintptr, 50)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	return formatFrames(runtime.CallersFrames(pcs[:n]))
}

func formatFrames(frames *runtime.Frames) string {
	var lines []string
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			lines = append(lines, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more || len(lines) >= maxStackFrames {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// cleanStack removes frames belonging to the interception engine itself so
// the stack points to the reporting application code.
func cleanStack(stack string) string {
	if stack == "" {
		return ""
	}
	lines := strings.Split(stack, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, modulePrefix) || strings.Contains(line, "web5lab/consoletext/serialize.") || strings.Contains(line, "log/slog.") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
