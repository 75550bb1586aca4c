// Package serialize turns arbitrary log arguments, including error values
// and cyclic object graphs, into transport-safe representations under a
// maximum traversal depth. It terminates on every input and never panics
// past the caller: per-property failures degrade to placeholder strings.
package serialize

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Placeholders emitted for guarded branches.
const (
	CircularPlaceholder = "[circular reference]"
	MaxDepthPlaceholder = "[max depth reached]"
)

const maxStackFrames = 20

// Value serializes v for transport. maxDepth is the recursion ceiling:
// branches nested deeper render as MaxDepthPlaceholder; references already
// visited render as CircularPlaceholder.
func Value(v any, maxDepth int) any {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return safeWalk(v, make(map[uintptr]struct{}), 0, maxDepth)
}

// safeWalk guards a single branch: a panic while serializing one property
// replaces that property only, without aborting the whole serialization.
func safeWalk(v any, seen map[uintptr]struct{}, depth, max int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("[unserializable: %v]", r)
		}
	}()
	return walk(v, seen, depth, max)
}

func walk(v any, seen map[uintptr]struct{}, depth, max int) any {
	if v == nil {
		return nil
	}
	if depth > max {
		return MaxDepthPlaceholder
	}

	switch val := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case error:
		return errorValue(val, seen, depth, max)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer && visit(rv, seen) {
			return CircularPlaceholder
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if visit(rv, seen) {
			return CircularPlaceholder
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			out[key] = safeWalk(iter.Value().Interface(), seen, depth+1, max)
		}
		return out
	case reflect.Slice:
		if visit(rv, seen) {
			return CircularPlaceholder
		}
		return sliceValue(rv, seen, depth, max)
	case reflect.Array:
		return sliceValue(rv, seen, depth, max)
	case reflect.Struct:
		return structValue(rv, seen, depth, max)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("[unserializable: %s]", rv.Type())
	default:
		return fmt.Sprint(v)
	}
}

// visit marks a reference and reports whether it was already in the
// visited set.
func visit(rv reflect.Value, seen map[uintptr]struct{}) bool {
	p := rv.Pointer()
	if p == 0 {
		return false
	}
	if _, ok := seen[p]; ok {
		return true
	}
	seen[p] = struct{}{}
	return false
}

func sliceValue(rv reflect.Value, seen map[uintptr]struct{}, depth, max int) any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = safeWalk(rv.Index(i).Interface(), seen, depth+1, max)
	}
	return out
}

func structValue(rv reflect.Value, seen map[uintptr]struct{}, depth, max int) any {
	typeOf := rv.Type()
	out := make(map[string]any, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := typeOf.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		key := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			if before, _, ok := strings.Cut(tag, ","); ok {
				key = before
			} else {
				key = tag
			}
		}
		out[key] = safeWalk(rv.Field(i).Interface(), seen, depth+1, max)
	}
	return out
}

// errorValue expands an error into a tagged record of name, message and
// stack, plus any exported fields beyond those, each serialized
// recursively.
func errorValue(err error, seen map[uintptr]struct{}, depth, max int) any {
	out := map[string]any{
		"name":    reflect.TypeOf(err).String(),
		"message": err.Error(),
	}

	var tracer interface{ StackTrace() []uintptr }
	if errors.As(err, &tracer) {
		if trace := tracer.StackTrace(); len(trace) > 0 {
			out["stack"] = formatStack(trace)
		}
	}

	rv := reflect.ValueOf(err)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return out
		}
		if visit(rv, seen) {
			return out
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return out
	}
	typeOf := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := typeOf.Field(i)
		if field.PkgPath != "" {
			continue
		}
		out[field.Name] = safeWalk(rv.Field(i).Interface(), seen, depth+1, max)
	}
	return out
}

func formatStack(trace []uintptr) string {
	frames := runtime.CallersFrames(trace)
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
