package consoletext

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	slogformatter "github.com/samber/slog-formatter"
	slogmulti "github.com/samber/slog-multi"
)

// snapshot records the global logging state captured at Init time, plus the
// replacements the engine installed. Captured once, consulted at Restore,
// never mutated in between.
type snapshot struct {
	prevSlog      *slog.Logger
	prevLogWriter io.Writer
	prevLogFlags  int
	prevLogPrefix string

	installedSlog   *slog.Logger
	installedBridge io.Writer
}

// Interceptor owns the interception lifecycle: snapshot the global logging
// entry points, install replacements, route intercepted calls through
// enhancement, colorized local output and best-effort shipping, and restore
// exactly what it installed.
type Interceptor struct {
	// mu guards Init/Restore/UpdateConfig. Steady-state logging reads cfg
	// and pipeline without it; global mutation happens only in
	// single-threaded setup and teardown phases.
	mu sync.Mutex

	cfg     Config
	env     Environment
	console io.Writer

	local    slog.Handler
	pipeline slog.Handler
	shipper  *shipper

	snap   *snapshot
	active bool
}

// New constructs an interceptor. Construction never mutates global logging
// state; nothing changes until Init is called.
func New(opts ...Option) *Interceptor {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = normalizeConfig(cfg)

	i := &Interceptor{cfg: cfg}
	i.console = cfg.ConsoleWriter
	if i.console == nil {
		i.console = os.Stderr
	}
	i.env = detectEnvironment(cfg.Environment)
	return i
}

// Config returns a copy of the current configuration.
func (i *Interceptor) Config() Config {
	cfg := i.cfg
	cfg.AllowedLevels = append([]string(nil), i.cfg.AllowedLevels...)
	return cfg
}

// EnvironmentTag reports the detected or overridden environment.
func (i *Interceptor) EnvironmentTag() string { return i.env.Tag() }

// UpdateConfig replaces the whole configuration record. Configuration is
// otherwise immutable for the engine's lifetime.
func (i *Interceptor) UpdateConfig(opts ...Option) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cfg := i.Config()
	for _, opt := range opts {
		opt(&cfg)
	}
	i.cfg = normalizeConfig(cfg)
	if i.cfg.ConsoleWriter != nil {
		i.console = i.cfg.ConsoleWriter
	}
	i.env = detectEnvironment(i.cfg.Environment)
	if i.active {
		i.buildPipeline()
	}
}

// Init snapshots the global logging entry points and installs the
// replacements: the intercepting slog default logger and the standard log
// package bridge. Init is idempotent; calling it again without an
// intervening Restore is a no-op. Returns the interceptor for chaining.
func (i *Interceptor) Init() *Interceptor {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.active {
		return i
	}

	i.buildPipeline()

	snap := &snapshot{
		prevSlog:      slog.Default(),
		prevLogWriter: log.Writer(),
		prevLogFlags:  log.Flags(),
		prevLogPrefix: log.Prefix(),
	}
	snap.installedSlog = slog.New(&tapHandler{tap: i})
	bridge := &stdlogBridge{tap: i}
	snap.installedBridge = bridge

	// slog.SetDefault rewires the log package into the new handler, so the
	// bridge must be installed after it.
	slog.SetDefault(snap.installedSlog)
	log.SetOutput(bridge)
	log.SetFlags(0)
	log.SetPrefix("")

	i.snap = snap
	i.active = true
	return i
}

// Restore returns every entry point the engine installed to its
// pre-capture original, each slot guarded by a reference-identity check so
// a different interceptor's later installation is never clobbered. Safe to
// call when never initialized, and safe while shipments are in flight:
// they drain independently.
func (i *Interceptor) Restore() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active || i.snap == nil {
		return
	}
	snap := i.snap

	// The ownership check on the log writer must run before slog.SetDefault,
	// which may itself rewire the log package output.
	ownsLog := log.Writer() == snap.installedBridge

	if slog.Default() == snap.installedSlog {
		slog.SetDefault(snap.prevSlog)
	}
	if ownsLog {
		log.SetOutput(snap.prevLogWriter)
		log.SetFlags(snap.prevLogFlags)
		log.SetPrefix(snap.prevLogPrefix)
	}

	if i.shipper != nil {
		i.shipper.close()
	}
	i.snap = nil
	i.active = false
}

// Shutdown restores the global state and waits for queued shipments to
// drain, bounded by ctx.
func (i *Interceptor) Shutdown(ctx context.Context) error {
	i.Restore()
	s := i.shipper
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every record enqueued for shipping before the call has
// been attempted.
func (i *Interceptor) Flush(ctx context.Context) error {
	if i.shipper == nil {
		return nil
	}
	return i.shipper.flushWait(ctx)
}

// buildPipeline assembles the fan-out: a colorized local branch writing to
// the pre-capture console, and a ship branch when an endpoint is
// configured. Each branch gates itself through Enabled.
func (i *Interceptor) buildPipeline() {
	i.local = i.newLocalHandler()
	branches := []slog.Handler{&localBranch{tap: i}}
	if i.cfg.Endpoint != "" {
		if i.shipper != nil {
			i.shipper.close()
		}
		i.shipper = newShipper(i.cfg, i.reportf)
		branches = append(branches, &shipBranch{tap: i})
	}
	i.pipeline = slogmulti.Fanout(branches...)
}

// newLocalHandler creates the colorized local output handler over the
// pristine console writer.
func (i *Interceptor) newLocalHandler() slog.Handler {
	noColor := !i.cfg.Colorize || !isTerminalSupported()
	color.NoColor = noColor

	tintHandler := tint.NewHandler(i.console, &tint.Options{
		Level:       LevelTrace,
		TimeFormat:  i.cfg.TimeFormat,
		NoColor:     noColor,
		ReplaceAttr: replaceLogLevel,
	})

	formatters := []slogformatter.Formatter{
		EnhancedErrorFormatter(),
		TozdErrorFormatter(),
		ErrorFormatter("error"),
	}
	formatterHandler := slogformatter.NewFormatterHandler(formatters...)
	return formatterHandler(tintHandler)
}

// reportf writes directly to the pristine console, bypassing every
// installed replacement. This is the sink for transport failures and
// recovered pipeline panics; it must never itself fail the caller.
func (i *Interceptor) reportf(format string, args ...any) {
	fmt.Fprintf(i.console, format+"\n", args...)
}

// tapHandler is the installed slog handler. It accepts every level and
// never returns an error; failures degrade to the pristine console.
type tapHandler struct {
	tap   *Interceptor
	attrs []slog.Attr
}

func (h *tapHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *tapHandler) Handle(ctx context.Context, r slog.Record) error {
	defer func() {
		if rec := recover(); rec != nil {
			h.tap.reportf("consoletext: logging pipeline panic recovered: %v", rec)
		}
	}()
	h.tap.handle(ctx, r, h.attrs)
	return nil
}

func (h *tapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &tapHandler{tap: h.tap, attrs: merged}
}

// WithGroup flattens groups; attribute keys keep their own names on both
// the local and the ship branch.
func (h *tapHandler) WithGroup(name string) slog.Handler { return h }

// handle is the leveled-call pipeline: enhance error arguments, fan out to
// local output and shipping, then auto-trace.
func (i *Interceptor) handle(ctx context.Context, r slog.Record, prefix []slog.Attr) {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	source := levelKey(r.Level)

	var firstErr error
	add := func(a slog.Attr) {
		if err, ok := a.Value.Any().(error); ok && err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if i.cfg.EnhanceErrors {
				a = slog.Any(a.Key, i.Enhance(err, source))
			}
		}
		nr.AddAttrs(a)
	}
	for _, a := range prefix {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	_ = i.pipeline.Handle(ctx, nr)

	if r.Level >= LevelError && i.cfg.AutoTraceErrors && !i.cfg.Silent {
		i.emitTrace(ctx, firstErr)
	}
}

// emitTrace prints one extra trace-level line after error output: the first
// error argument's stack when present, otherwise a synthetically captured
// stack (server environment only).
func (i *Interceptor) emitTrace(ctx context.Context, firstErr error) {
	stack := ""
	if firstErr != nil {
		stack = cleanStack(errorStack(firstErr))
	}
	if stack == "" && i.env.Tag() == EnvServer {
		stack = cleanStack(captureStack(3))
	}
	if stack == "" {
		return
	}
	tr := slog.NewRecord(time.Now(), LevelTrace, stack, 0)
	_ = i.local.Handle(ctx, tr)
}

// localBranch forwards records to the colorized local handler unless the
// configuration is silent.
type localBranch struct{ tap *Interceptor }

func (b *localBranch) Enabled(_ context.Context, _ slog.Level) bool { return !b.tap.cfg.Silent }
func (b *localBranch) Handle(ctx context.Context, r slog.Record) error {
	return b.tap.local.Handle(ctx, r)
}
func (b *localBranch) WithAttrs(_ []slog.Attr) slog.Handler { return b }
func (b *localBranch) WithGroup(_ string) slog.Handler      { return b }

// shipBranch enqueues records for remote delivery when the level is
// eligible. Enqueueing never blocks the logging call.
type shipBranch struct{ tap *Interceptor }

func (b *shipBranch) Enabled(_ context.Context, level slog.Level) bool {
	return b.tap.shipper != nil && b.tap.levelAllowed(level)
}
func (b *shipBranch) Handle(_ context.Context, r slog.Record) error {
	b.tap.shipper.enqueue(b.tap.buildRecord(r))
	return nil
}
func (b *shipBranch) WithAttrs(_ []slog.Attr) slog.Handler { return b }
func (b *shipBranch) WithGroup(_ string) slog.Handler      { return b }

func (i *Interceptor) levelAllowed(level slog.Level) bool {
	name := levelKey(level)
	for _, allowed := range i.cfg.AllowedLevels {
		if strings.EqualFold(allowed, name) {
			return true
		}
	}
	return false
}

// stdlogBridge routes standard log package output through the engine.
// These are pass-through diagnostic lines: local output only (honoring
// Silent), except that error-prefixed lines are duplicated into the full
// pipeline when CaptureConsoleErrors is enabled.
type stdlogBridge struct{ tap *Interceptor }

func (w *stdlogBridge) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.tap.bridgeLine(detectLevelFromPrefix(msg), msg)
	}
	return len(p), nil
}

// detectLevelFromPrefix maps common textual prefixes to levels.
func detectLevelFromPrefix(msg string) slog.Level {
	up := strings.ToUpper(msg)
	switch {
	case strings.HasPrefix(up, "ERROR"):
		return LevelError
	case strings.HasPrefix(up, "WARN"):
		return LevelWarn
	case strings.HasPrefix(up, "DEBUG"):
		return LevelDebug
	case strings.HasPrefix(up, "INFO"):
		return LevelInfo
	default:
		return LevelLog
	}
}

func (i *Interceptor) bridgeLine(level slog.Level, msg string) {
	defer func() {
		if rec := recover(); rec != nil {
			i.reportf("consoletext: log bridge panic recovered: %v", rec)
		}
	}()
	r := slog.NewRecord(time.Now(), level, msg, 0)
	if level >= LevelError && i.cfg.CaptureConsoleErrors {
		_ = i.pipeline.Handle(context.Background(), r)
		return
	}
	if !i.cfg.Silent {
		_ = i.local.Handle(context.Background(), r)
	}
}

// CapturePanic is the uncaught-error hook. Use it as a deferred call at the
// top of a goroutine or main:
//
//	defer tap.CapturePanic()
//
// A recovered panic is enhanced, shipped as level "error" if allowed,
// printed locally unless silent, and then re-raised so pre-existing crash
// behavior is preserved.
func (i *Interceptor) CapturePanic() {
	rec := recover()
	if rec == nil {
		return
	}
	if i.cfg.CaptureGlobalErrors {
		i.captureThrown(rec, "uncaughtException")
	}
	panic(rec)
}

// Go runs fn as a detached task. A returned error or recovered panic is
// captured as an unhandled rejection; with capture disabled a panic
// propagates exactly as it would without the interceptor.
func (i *Interceptor) Go(fn func() error) {
	go func() {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if !i.cfg.CaptureUnhandledRejections {
				panic(rec)
			}
			i.captureThrown(rec, "unhandledRejection")
		}()
		if err := fn(); err != nil && i.cfg.CaptureUnhandledRejections {
			i.captureThrown(err, "unhandledRejection")
		}
	}()
}

// captureThrown builds an enhanced record from a thrown or rejected value
// and routes a single-line summary through the pipeline.
func (i *Interceptor) captureThrown(v any, source string) {
	defer func() {
		if rec := recover(); rec != nil {
			i.reportf("consoletext: capture panic recovered: %v", rec)
		}
	}()
	enhanced := i.enhanceReason(v, source)
	summary := fmt.Sprintf("%s: %s: %s", i.cfg.Name, source, enhanced.Message)
	if i.pipeline == nil {
		i.reportf("consoletext: %s", summary)
		return
	}
	r := slog.NewRecord(time.Now(), LevelError, summary, 0)
	r.AddAttrs(slog.Any("error", enhanced))
	_ = i.pipeline.Handle(context.Background(), r)
}
