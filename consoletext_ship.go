package consoletext

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/web5lab/consoletext/serialize"
)

// Record is the outbound wire format: the JSON body of the shipping POST.
// Messages[0] is the rendered message string; Messages[1], present only
// when the call carried attributes, is one map of serialized values.
type Record struct {
	Level       string         `json:"level"`
	Messages    []any          `json:"messages"`
	Timestamp   string         `json:"timestamp"`
	Name        string         `json:"name"`
	Environment string         `json:"environment"`
	Metadata    map[string]any `json:"metadata"`
	Stack       string         `json:"stack,omitempty"`
}

// buildRecord turns an intercepted slog record into a wire Record. Error
// attributes that were enhanced keep their structure; everything else goes
// through the serializer under the configured depth budget.
func (i *Interceptor) buildRecord(r slog.Record) Record {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		Level:       levelKey(r.Level),
		Timestamp:   ts.Format(time.RFC3339Nano),
		Name:        i.cfg.Name,
		Environment: i.env.Tag(),
		Metadata:    i.env.Metadata(),
	}

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		v := a.Value.Resolve().Any()
		if enhanced, ok := v.(*EnhancedError); ok {
			if rec.Stack == "" {
				rec.Stack = enhanced.Stack
			}
			attrs[a.Key] = i.enhancedFields(enhanced)
			return true
		}
		attrs[a.Key] = serialize.Value(v, i.cfg.MaxErrorDepth)
		return true
	})

	messages := []any{r.Message}
	if len(attrs) > 0 {
		if i.cfg.HideSensitiveData {
			if masked, ok := serialize.MaskSensitive(attrs).(map[string]any); ok {
				attrs = masked
			}
		}
		messages = append(messages, attrs)
	}
	rec.Messages = messages
	return rec
}

// enhancedFields maps an enhanced error onto the wire without the generic
// error expansion; the original error still contributes its own enumerable
// properties under "cause".
func (i *Interceptor) enhancedFields(e *EnhancedError) map[string]any {
	out := map[string]any{
		"name":        e.Name,
		"message":     e.Message,
		"source":      e.Source,
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
		"logger":      e.Logger,
		"environment": e.Environment,
		"context":     e.Context,
	}
	if e.Stack != "" {
		out["stack"] = e.Stack
	}
	if e.cause != nil {
		out["cause"] = serialize.Value(e.cause, i.cfg.MaxErrorDepth)
	}
	return out
}

// shipTask is one queue entry: either a record to deliver or a flush
// barrier.
type shipTask struct {
	record Record
	flush  chan struct{}
}

// shipper performs best-effort delivery of records to the configured
// endpoint. Dispatch is a buffered channel consumed by a single worker
// goroutine; the logging call never waits on network I/O. There is no
// retry and no backoff: each record is independent.
type shipper struct {
	endpoint string
	apiKey   string
	client   *http.Client

	queue    chan shipTask
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	// reportf is the pristine error sink; delivery failures go here and
	// nowhere else.
	reportf func(format string, args ...any)
}

func newShipper(cfg Config, reportf func(string, ...any)) *shipper {
	s := &shipper{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.ShipTimeout},
		queue:    make(chan shipTask, cfg.QueueSize),
		shutdown: make(chan struct{}),
		reportf:  reportf,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// enqueue never blocks: when the queue is full the record is dropped and
// the drop reported to the pristine sink.
func (s *shipper) enqueue(rec Record) {
	select {
	case s.queue <- shipTask{record: rec}:
	default:
		s.reportf("consoletext: ship queue full, dropping %s record", rec.Level)
	}
}

func (s *shipper) run() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.queue:
			s.execute(task)
		case <-s.shutdown:
			// Drain remaining tasks before exiting.
			for {
				select {
				case task := <-s.queue:
					s.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (s *shipper) execute(task shipTask) {
	if task.flush != nil {
		close(task.flush)
		return
	}
	s.post(task.record)
}

// post performs one delivery attempt. Any failure is swallowed after a
// single report; the logging call path never observes it.
func (s *shipper) post(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			s.reportf("consoletext: ship panic recovered: %v", r)
		}
	}()

	body, err := json.Marshal(rec)
	if err != nil {
		s.reportf("consoletext: ship encode failed: %v", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.reportf("consoletext: ship request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.reportf("consoletext: ship to %s failed: %v", s.endpoint, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.reportf("consoletext: ship to %s failed: status %s", s.endpoint, resp.Status)
	}
}

// flushWait enqueues a barrier and waits until the worker reaches it.
func (s *shipper) flushWait(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.queue <- shipTask{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the worker after draining the queue. In-flight deliveries
// complete independently of interception state.
func (s *shipper) close() {
	s.once.Do(func() { close(s.shutdown) })
}
