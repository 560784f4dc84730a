// dpv is a real-time TUI client for a DNS propagation-check service.
//
// It keeps a WebSocket open to the service, sends one query at a time, and
// renders per-resolver answers as they stream in, grouped and filterable by
// country.
//
// Usage:
//
//	dpv                                   # Connect to the configured server
//	dpv --server https://dns.example.com  # Derive wss://dns.example.com/ws/
//	dpv --ws ws://127.0.0.1:9000/ws/      # Use an explicit socket URL
//	dpv --domain example.com --type MX    # Prefill and run on connect
//	dpv --json --domain example.com       # Run once, print JSON, exit
//	dpv --metrics-addr :9090              # Serve Prometheus metrics
//	dpv --version                         # Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviddao/dnsprop_viewer/internal/config"
	"github.com/daviddao/dnsprop_viewer/internal/conn"
	"github.com/daviddao/dnsprop_viewer/internal/logging"
	"github.com/daviddao/dnsprop_viewer/internal/projection"
	"github.com/daviddao/dnsprop_viewer/internal/protocol"
	"github.com/daviddao/dnsprop_viewer/internal/query"
	"github.com/daviddao/dnsprop_viewer/internal/session"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

// cliFlags holds values given on the command line.
type cliFlags struct {
	server      string
	ws          string
	recordType  string
	logFile     string
	metricsAddr string
	set         map[string]bool
}

// applyFlags overrides cfg with every flag the user actually set.
func applyFlags(cfg *config.Config, f cliFlags) {
	if f.set["server"] {
		cfg.Server = f.server
	}
	if f.set["ws"] {
		cfg.Endpoint = f.ws
	}
	if f.set["type"] {
		cfg.RecordType = f.recordType
	}
	if f.set["log"] {
		cfg.LogFile = f.logFile
	}
	if f.set["metrics-addr"] {
		cfg.MetricsAddr = f.metricsAddr
	}
}

// loadConfig resolves the config file (explicit or discovered) and loads it.
// A missing discovered file is not an error.
func loadConfig(explicit string) (config.Config, string, error) {
	path := explicit
	if path == "" {
		p, err := config.Discover()
		switch {
		case err == nil:
			path = p
		case !errors.Is(err, os.ErrNotExist):
			return config.Config{}, "", err
		}
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main without os.Exit so deferred cleanup always runs. It returns
// the process exit code: 2 for usage errors, 1 for runtime failures.
func run(args []string) int {
	fs := flag.NewFlagSet("dpv", flag.ContinueOnError)
	var f cliFlags
	fs.StringVar(&f.server, "server", "", "service base URL; the socket is derived as ws(s)://host/ws/")
	fs.StringVar(&f.ws, "ws", "", "explicit WebSocket URL (overrides --server)")
	fs.StringVar(&f.recordType, "type", "", "record type (A, AAAA, CNAME, MX, TXT, NS, ...)")
	fs.StringVar(&f.logFile, "log", "", "log file path, or - for stderr (default ~/.dpv/logs)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	domainFlag := fs.String("domain", "", "domain to query; runs as soon as the connection is up")
	configFlag := fs.String("config", "", "config file (default: $DPV_CONFIG or .dpv/config.json)")
	jsonMode := fs.Bool("json", false, "run one query, print the results as JSON and exit (no TUI)")
	timeout := fs.Duration("timeout", 30*time.Second, "overall time limit in --json mode")
	debug := fs.Bool("debug", false, "log at debug level")
	versionFlag := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *versionFlag {
		fmt.Printf("dpv %s\n", Version)
		return 0
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	cfg, cfgPath, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpv: config: %v\n", err)
		return 1
	}
	applyFlags(&cfg, f)

	endpoint, err := conn.Endpoint(cfg.Server, cfg.Endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpv: %v\n", err)
		return 1
	}

	// --json mode validates up front so bad input never waits on the network.
	if *jsonMode {
		if _, err := query.Validate(*domainFlag, cfg.RecordType); err != nil {
			_, text := query.Describe(err)
			fmt.Fprintf(os.Stderr, "dpv: %s\n", text)
			return 2
		}
	}

	level := log.InfoLevel
	if *debug {
		level = log.DebugLevel
	}
	logPath := cfg.LogFile
	if logPath == "" {
		if *jsonMode {
			logPath = logging.Stderr
			if !*debug {
				level = log.WarnLevel
			}
		} else if logPath, err = logging.DefaultPath(time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "dpv: %v\n", err)
			return 1
		}
	}
	logger, logCloser, err := logging.Open(logPath, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpv: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	logger.Info("dpv started", "version", Version, "endpoint", endpoint, "config", cfgPath)

	reg := prometheus.NewRegistry()
	metrics, err := conn.NewMetrics(reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpv: metrics: %v\n", err)
		return 1
	}
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := conn.NewManager(endpoint, conn.Options{
		CloseDelay:   cfg.CloseDelay.Std(),
		DialDelay:    cfg.DialDelay.Std(),
		PingInterval: cfg.PingInterval.Std(),
		Logger:       logger.WithPrefix("conn"),
		Metrics:      metrics,
	})
	go mgr.Run(ctx)

	ctrl := session.New(mgr, logger.WithPrefix("session"))

	if *jsonMode {
		return runJSON(ctx, mgr.Events(), ctrl, *domainFlag, cfg.RecordType, *timeout)
	}

	m := newModel(ctrl, mgr, cfg, endpoint)
	m.cfgPath = cfgPath
	m.overrides = f
	if *domainFlag != "" {
		m.input.SetValue(*domainFlag)
		m.autoSubmit = true
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Feed transport events into the TUI; Update is the only consumer.
	go func() {
		for ev := range mgr.Events() {
			p.Send(connEventMsg{ev: ev})
		}
	}()

	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath)
		if err != nil {
			logger.Warn("config watch disabled", "path", cfgPath, "err", err)
		} else {
			defer w.Close()
			logger.Info("watching config", "path", w.Path())
			go func() {
				for range w.Changes() {
					p.Send(configChangedMsg{})
				}
			}()
		}
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error("tui exited", "err", err)
		fmt.Fprintf(os.Stderr, "dpv: %v\n", err)
		return 1
	}
	logger.Info("dpv shutting down")
	return 0
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// --- JSON mode ---

var errTimeout = errors.New("timed out before the query finished")

// jsonOutput is the structure printed by --json.
type jsonOutput struct {
	Query      jsonQuery         `json:"query"`
	State      string            `json:"state"`
	Message    string            `json:"message,omitempty"`
	Results    []protocol.Record `json:"results"`
	Categories []jsonCategory    `json:"categories"`
	Stats      jsonStats         `json:"stats"`
}

type jsonQuery struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonCategory struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Badge    string `json:"badge"`
	Color    string `json:"color"`
}

type jsonStats struct {
	Total       int   `json:"total"`
	Succeeded   int   `json:"succeeded"`
	Failed      int   `json:"failed"`
	Diagnostics int   `json:"diagnostics"`
	Dropped     int   `json:"dropped"`
	ElapsedMS   int64 `json:"elapsed_ms"`

	// Mean of the numeric latency_ms values; omitted when none were reported.
	AvgLatencyMS float64 `json:"avg_latency_ms,omitempty"`
}

// runJSON drives one query without a TUI and prints the result. The exit
// code is 0 only when the query completed.
func runJSON(ctx context.Context, events <-chan conn.Event, ctrl *session.Controller, domain, recordType string, timeout time.Duration) int {
	runErr := runHeadless(ctx, events, ctrl, domain, recordType, timeout)
	out := buildJSONOutput(ctrl, time.Now())
	if runErr != nil {
		out.Message = runErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "dpv: json: %v\n", err)
		return 1
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "dpv: %v\n", runErr)
	}
	if ctrl.Session().Query != session.Completed {
		return 1
	}
	return 0
}

// runHeadless feeds events into ctrl until the query reaches a terminal
// state. It submits on the first connection, and again if a reconnect
// interrupted the running query.
func runHeadless(ctx context.Context, events <-chan conn.Event, ctrl *session.Controller, domain, recordType string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	submitted := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("connection manager stopped")
			}
			ctrl.Handle(ev)

			s := ctrl.Session()
			if ctrl.CanSubmit() && (!submitted || s.Interrupted || s.Query == session.Failed) {
				if _, err := ctrl.Submit(domain, recordType); err != nil {
					if errors.Is(err, query.ErrEmptyDomain) || errors.Is(err, query.ErrMissingRecordType) || errors.Is(err, query.ErrDomainTooLong) {
						return err
					}
					continue // send failed; retry on the next connection
				}
				submitted = true
				continue
			}

			if submitted {
				switch s.Query {
				case session.Completed:
					return nil
				case session.LimitReached:
					return errors.New(ctrl.Notice().Text)
				}
			}

		case <-deadline.C:
			return errTimeout

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// buildJSONOutput converts the controller's state into the JSON output structure.
func buildJSONOutput(ctrl *session.Controller, now time.Time) jsonOutput {
	s := ctrl.Session()
	records := ctrl.Records()

	out := jsonOutput{
		Query:      jsonQuery{Name: s.Active.Name, Type: s.Active.Type},
		State:      s.Query.String(),
		Results:    records,
		Categories: []jsonCategory{},
		Stats: jsonStats{
			Total:       len(records),
			Diagnostics: ctrl.FrameCount(protocol.KindDiagnostic),
			Dropped:     ctrl.FrameCount(protocol.KindDrop),
		},
	}
	if out.Results == nil {
		out.Results = []protocol.Record{}
	}
	var latencySum float64
	var latencyN int
	for _, r := range records {
		if r.Status {
			out.Stats.Succeeded++
		} else {
			out.Stats.Failed++
		}
		if r.LatencyMS != nil {
			if ms, ok := r.LatencyMS.Float(); ok {
				latencySum += ms
				latencyN++
			}
		}
	}
	if latencyN > 0 {
		out.Stats.AvgLatencyMS = latencySum / float64(latencyN)
	}
	for _, c := range ctrl.CategoryCounts() {
		out.Categories = append(out.Categories, jsonCategory{
			Category: c.Category,
			Count:    c.Count,
			Badge:    c.Badge,
			Color:    projection.CategoryColor(c.Category).CSS,
		})
	}
	if !s.StartedAt.IsZero() {
		end := s.FinishedAt
		if end.IsZero() {
			end = now
		}
		out.Stats.ElapsedMS = end.Sub(s.StartedAt).Milliseconds()
	}
	if n := ctrl.Notice(); n.Kind == session.NoticeBad || n.Kind == session.NoticeWarn {
		if s.Query != session.Running {
			out.Message = n.Text
		}
	}
	return out
}
