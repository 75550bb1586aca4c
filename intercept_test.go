package consoletext_test

import (
	"log"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/web5lab/consoletext"
	"gitlab.com/tozd/go/errors"
)

type InterceptSuite struct {
	suite.Suite

	state loggingState
	buf   *syncBuffer
}

func TestInterceptSuite(t *testing.T) {
	suite.Run(t, new(InterceptSuite))
}

func (s *InterceptSuite) SetupTest() {
	s.state = saveLoggingState()
	s.buf = &syncBuffer{}
}

func (s *InterceptSuite) TearDownTest() {
	s.state.restore()
}

func (s *InterceptSuite) newTap(opts ...consoletext.Option) *consoletext.Interceptor {
	base := []consoletext.Option{
		consoletext.WithConsoleWriter(s.buf),
		consoletext.WithColorize(false),
	}
	return consoletext.New(append(base, opts...)...)
}

// --- lifecycle ---

func (s *InterceptSuite) TestNewDoesNotInstall() {
	s.newTap()
	s.Same(s.state.logger, slog.Default())
	s.True(log.Writer() == s.state.writer)
}

func (s *InterceptSuite) TestInitInstallsAndRestorePutsBack() {
	tap := s.newTap()
	tap.Init()
	s.NotSame(s.state.logger, slog.Default())
	s.False(log.Writer() == s.state.writer)
	s.Zero(log.Flags())

	tap.Restore()
	s.Same(s.state.logger, slog.Default())
	s.True(log.Writer() == s.state.writer)
	s.Equal(s.state.flags, log.Flags())
	s.Equal(s.state.prefix, log.Prefix())
}

func (s *InterceptSuite) TestInitIdempotent() {
	tap := s.newTap()
	tap.Init()
	installed := slog.Default()
	tap.Init()
	s.Same(installed, slog.Default())

	tap.Restore()
	s.Same(s.state.logger, slog.Default())
}

func (s *InterceptSuite) TestRestoreWithoutInitIsNoop() {
	tap := s.newTap()
	tap.Restore()
	s.Same(s.state.logger, slog.Default())
	s.True(log.Writer() == s.state.writer)
}

func (s *InterceptSuite) TestRestoreSkipsForeignInstallation() {
	t1 := s.newTap()
	t2 := s.newTap()

	t1.Init()
	firstLogger := slog.Default()
	firstWriter := log.Writer()

	t2.Init()
	s.NotSame(firstLogger, slog.Default())

	// t1 no longer owns the globals; its restore must not clobber t2's.
	t1.Restore()
	s.NotSame(s.state.logger, slog.Default())
	s.False(log.Writer() == s.state.writer)

	// t2 restores what it captured, which is t1's installation.
	t2.Restore()
	s.Same(firstLogger, slog.Default())
	s.True(log.Writer() == firstWriter)
}

// --- local output ---

func (s *InterceptSuite) TestLocalOutput() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	slog.Info("service ready", "version", "1.4.2")
	out := s.buf.String()
	s.Contains(out, "INFO")
	s.Contains(out, "service ready")
	s.Contains(out, "version=1.4.2")
}

func (s *InterceptSuite) TestTextLevelTag() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	consoletext.Text("hello")
	out := s.buf.String()
	s.Contains(out, "TEXT")
	s.Contains(out, "hello")
}

func (s *InterceptSuite) TestLogLevelTag() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	consoletext.Log("plain line")
	out := s.buf.String()
	s.Contains(out, "LOG")
	s.Contains(out, "plain line")
}

func (s *InterceptSuite) TestSilentSuppressesLocalOutput() {
	tap := s.newTap(consoletext.WithSilent(true))
	tap.Init()
	defer tap.Restore()

	slog.Info("quiet please")
	slog.Error("still quiet")
	s.Empty(s.buf.String())
}

// --- standard log bridge ---

func (s *InterceptSuite) TestStdLogBridged() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	log.Print("legacy component initialized")
	s.Contains(s.buf.String(), "legacy component initialized")
}

func (s *InterceptSuite) TestStdLogPrefixDetection() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	log.Print("WARN: low memory")
	s.Contains(s.buf.String(), "WARN")
	s.Contains(s.buf.String(), "low memory")
}

// --- auto trace ---

func (s *InterceptSuite) TestAutoTraceAfterError() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	err := errors.New("database gone")
	slog.Error("startup failed", "error", err)

	out := s.buf.String()
	s.Contains(out, "ERROR")
	s.Contains(out, "startup failed")
	s.Contains(out, "TRACE")
	s.Contains(out, "consoletext_test")
}

func (s *InterceptSuite) TestAutoTraceDisabled() {
	tap := s.newTap(consoletext.WithAutoTraceErrors(false))
	tap.Init()
	defer tap.Restore()

	slog.Error("startup failed", "error", errors.New("database gone"))
	s.NotContains(s.buf.String(), "TRACE")
}

// --- panic and detached-task capture ---

func (s *InterceptSuite) TestCapturePanicLogsAndRethrows() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	s.Panics(func() {
		defer tap.CapturePanic()
		panic("kaboom")
	})

	out := s.buf.String()
	s.Contains(out, "uncaughtException")
	s.Contains(out, "kaboom")
}

func (s *InterceptSuite) TestCapturePanicDisabledStillRethrows() {
	tap := s.newTap(consoletext.WithCaptureGlobalErrors(false))
	tap.Init()
	defer tap.Restore()

	s.Panics(func() {
		defer tap.CapturePanic()
		panic("kaboom")
	})
	s.NotContains(s.buf.String(), "uncaughtException")
}

func (s *InterceptSuite) TestGoCapturesTaskError() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	tap.Go(func() error {
		return errors.New("background refresh failed")
	})

	s.Eventually(func() bool {
		out := s.buf.String()
		return strings.Contains(out, "unhandledRejection") &&
			strings.Contains(out, "background refresh failed")
	}, time.Second, 10*time.Millisecond)
}

func (s *InterceptSuite) TestGoCapturesTaskPanic() {
	tap := s.newTap()
	tap.Init()
	defer tap.Restore()

	tap.Go(func() error {
		panic(42)
	})

	s.Eventually(func() bool {
		out := s.buf.String()
		return strings.Contains(out, "unhandledRejection") &&
			strings.Contains(out, "UnhandledRejection") &&
			strings.Contains(out, "42")
	}, time.Second, 10*time.Millisecond)
}

func (s *InterceptSuite) TestGoCaptureDisabledIgnoresError() {
	tap := s.newTap(consoletext.WithCaptureUnhandledRejections(false))
	tap.Init()
	defer tap.Restore()

	tap.Go(func() error {
		return errors.New("swallowed")
	})

	time.Sleep(50 * time.Millisecond)
	s.NotContains(s.buf.String(), "swallowed")
}
