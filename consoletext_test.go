package consoletext_test

import (
	"bytes"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/web5lab/consoletext"
)

// syncBuffer is a goroutine-safe console sink for tests. The ship worker
// reports failures concurrently with the test goroutine's own logging.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// loggingState snapshots the process-wide logging entry points so suites can
// put them back no matter how a test ends.
type loggingState struct {
	logger *slog.Logger
	writer io.Writer
	flags  int
	prefix string
}

func saveLoggingState() loggingState {
	return loggingState{
		logger: slog.Default(),
		writer: log.Writer(),
		flags:  log.Flags(),
		prefix: log.Prefix(),
	}
}

func (st loggingState) restore() {
	slog.SetDefault(st.logger)
	log.SetOutput(st.writer)
	log.SetFlags(st.flags)
	log.SetPrefix(st.prefix)
}

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg := consoletext.New().Config()
	s.Empty(cfg.Endpoint)
	s.Equal("console", cfg.Name)
	s.Equal([]string{"error"}, cfg.AllowedLevels)
	s.True(cfg.Colorize)
	s.False(cfg.Silent)
	s.True(cfg.CaptureGlobalErrors)
	s.True(cfg.CaptureUnhandledRejections)
	s.True(cfg.CaptureConsoleErrors)
	s.True(cfg.AutoTraceErrors)
	s.True(cfg.EnhanceErrors)
	s.False(cfg.HideSensitiveData)
	s.Equal(3, cfg.MaxErrorDepth)
	s.Equal(time.RFC3339, cfg.TimeFormat)
	s.Equal(5*time.Second, cfg.ShipTimeout)
	s.Equal(1000, cfg.QueueSize)
}

func (s *ConfigSuite) TestOptionsApply() {
	cfg := consoletext.New(
		consoletext.WithEndpoint("https://logs.example.com/ingest"),
		consoletext.WithAPIKey("sekret"),
		consoletext.WithName("billing"),
		consoletext.WithAllowedLevels("error", "warn", "text"),
		consoletext.WithSilent(true),
		consoletext.WithMaxErrorDepth(5),
		consoletext.WithQueueSize(10),
	).Config()
	s.Equal("https://logs.example.com/ingest", cfg.Endpoint)
	s.Equal("sekret", cfg.APIKey)
	s.Equal("billing", cfg.Name)
	s.Equal([]string{"error", "warn", "text"}, cfg.AllowedLevels)
	s.True(cfg.Silent)
	s.Equal(5, cfg.MaxErrorDepth)
	s.Equal(10, cfg.QueueSize)
}

func (s *ConfigSuite) TestInvalidEndpointCleared() {
	cfg := consoletext.New(consoletext.WithEndpoint("not a url")).Config()
	s.Empty(cfg.Endpoint)
}

func (s *ConfigSuite) TestNegativeDepthDefaulted() {
	cfg := consoletext.New(consoletext.WithMaxErrorDepth(-2)).Config()
	s.Equal(3, cfg.MaxErrorDepth)
}

func (s *ConfigSuite) TestInvalidEnvironmentFallsBackToDetection() {
	tap := consoletext.New(consoletext.WithEnvironment("mars"))
	s.Empty(tap.Config().Environment)
	s.Equal("server", tap.EnvironmentTag())
}

func (s *ConfigSuite) TestEnvironmentOverride() {
	tap := consoletext.New(consoletext.WithEnvironment("browser"))
	s.Equal("browser", tap.EnvironmentTag())
}

func (s *ConfigSuite) TestUpdateConfigReplaces() {
	tap := consoletext.New(consoletext.WithName("before"))
	tap.UpdateConfig(
		consoletext.WithName("after"),
		consoletext.WithAllowedLevels("text"),
	)
	cfg := tap.Config()
	s.Equal("after", cfg.Name)
	s.Equal([]string{"text"}, cfg.AllowedLevels)
}

func (s *ConfigSuite) TestConfigCopyIsolated() {
	tap := consoletext.New()
	cfg := tap.Config()
	cfg.AllowedLevels[0] = "mutated"
	s.Equal([]string{"error"}, tap.Config().AllowedLevels)
}

func (s *ConfigSuite) TestLevelFromName() {
	level, ok := consoletext.LevelFromName("error")
	s.True(ok)
	s.Equal(consoletext.LevelError, level)

	level, ok = consoletext.LevelFromName(" TEXT ")
	s.True(ok)
	s.Equal(consoletext.LevelText, level)

	_, ok = consoletext.LevelFromName("shout")
	s.False(ok)
}

func (s *ConfigSuite) TestLevelOrdering() {
	s.Less(consoletext.LevelTrace, consoletext.LevelDebug)
	s.Less(consoletext.LevelDebug, consoletext.LevelLog)
	s.Less(consoletext.LevelLog, consoletext.LevelInfo)
	s.Less(consoletext.LevelInfo, consoletext.LevelText)
	s.Less(consoletext.LevelText, consoletext.LevelWarn)
	s.Less(consoletext.LevelWarn, consoletext.LevelError)
}
