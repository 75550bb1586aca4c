// Command consoletext-collector is a development-time receiver for records
// shipped by the consoletext interceptor. It prints each record as one
// colorized line and exists to close the shipping loop locally; it is not
// a log store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/k0kubun/pp/v3"
	"github.com/valyala/fasttemplate"

	"github.com/web5lab/consoletext"
)

var levelColors = map[string]*color.Color{
	"trace": color.New(color.FgWhite),
	"debug": color.New(color.FgCyan),
	"log":   color.New(color.FgMagenta),
	"info":  color.New(color.FgGreen),
	"text":  color.New(color.FgBlue),
	"warn":  color.New(color.FgYellow),
	"error": color.New(color.FgRed),
}

func levelTag(level string) string {
	name := strings.ToUpper(level)
	if c, ok := levelColors[strings.ToLower(level)]; ok {
		return c.Sprint(name)
	}
	return name
}

// renderMessages flattens the wire messages list into one display string:
// the rendered message followed by the serialized attribute map, if any.
func renderMessages(messages []any) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		switch v := m.(type) {
		case string:
			parts = append(parts, v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprint(v))
				continue
			}
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, " ")
}

type ingestHandler struct {
	cfg      collectorConfig
	template *fasttemplate.Template
	out      io.Writer
	printer  *pp.PrettyPrinter
}

func newIngestHandler(cfg collectorConfig, out io.Writer) *ingestHandler {
	printer := pp.New()
	printer.SetOutput(out)
	printer.SetColoringEnabled(false)
	return &ingestHandler{
		cfg:      cfg,
		template: fasttemplate.New(cfg.Template, "{", "}"),
		out:      out,
		printer:  printer,
	}
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.APIKey != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.cfg.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var rec consoletext.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad record: "+err.Error(), http.StatusBadRequest)
		return
	}

	line := h.template.ExecuteString(map[string]any{
		"timestamp":   rec.Timestamp,
		"level":       levelTag(rec.Level),
		"name":        rec.Name,
		"environment": rec.Environment,
		"message":     renderMessages(rec.Messages),
	})
	fmt.Fprintln(h.out, line)
	if rec.Stack != "" {
		fmt.Fprintln(h.out, "  "+strings.ReplaceAll(rec.Stack, "\n", "\n  "))
	}
	if h.cfg.Verbose && len(rec.Metadata) > 0 {
		_, _ = h.printer.Println(rec.Metadata)
	}

	w.WriteHeader(http.StatusAccepted)
}

func newRouter(cfg collectorConfig, out io.Writer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodPost, "/ingest", newIngestHandler(cfg, out))
	return r
}

func main() {
	configPath := flag.String("config", "", "path to collector.toml (default: XDG config dir)")
	listen := flag.String("listen", "", "listen address override")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "consoletext-collector:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
		cfg = normalizeConfig(cfg)
	}

	fmt.Fprintf(os.Stderr, "consoletext-collector listening on %s\n", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, newRouter(cfg, os.Stdout)); err != nil {
		fmt.Fprintln(os.Stderr, "consoletext-collector:", err)
		os.Exit(1)
	}
}
