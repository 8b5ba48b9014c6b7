// Command dynamic-dnspod keeps DNSPod (or RFC2136) records pointed at the
// host's current public IP address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bkero/dynamic-dnspod/pkg/config"
	"github.com/bkero/dynamic-dnspod/pkg/controller"
	"github.com/bkero/dynamic-dnspod/pkg/probe"
	"github.com/bkero/dynamic-dnspod/pkg/provider"
	"github.com/bkero/dynamic-dnspod/pkg/provider/dnspod"
	"github.com/bkero/dynamic-dnspod/pkg/provider/rfc2136"
)

// options is the parsed command line.
type options struct {
	configPath      string
	logPath         string
	pidPath         string
	action          string
	logLevel        string
	healthPort      int
	once            bool
	dryRun          bool
	init            bool
	shutdownTimeout time.Duration
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.init {
		if err := runInit(opts.configPath, os.Stdin, os.Stdout, terminalSecretReader(os.Stdin, os.Stdout)); err != nil {
			fmt.Fprintln(os.Stderr, "init failed:", err)
			os.Exit(1)
		}
		return
	}

	out, err := openLogOutput(opts.logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer out.Close()
	log := newLogger(opts.logLevel, out)

	svc, err := newService(&program{opts: opts, log: log}, opts)
	if err != nil {
		log.Error("failed to create service", "err", err)
		os.Exit(1)
	}

	// ---- Service control ----
	if opts.action != "" {
		if err := controlService(svc, opts.action, os.Stdout); err != nil {
			log.Error("service action failed", "action", opts.action, "err", err)
			os.Exit(1)
		}
		return
	}

	// Started by the OS service manager.
	if !service.Interactive() {
		if err := svc.Run(); err != nil {
			log.Error("service exited with error", "err", err)
			os.Exit(1)
		}
		return
	}

	// ---- Foreground ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := run(ctx, opts, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("dynamic-dnspod exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// parseFlags registers every flag on fs and parses args. Each flag falls
// back to a DYNAMIC_DNSPOD_* environment variable.
func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options

	fs.StringVar(&o.configPath, "c",
		envOr("DYNAMIC_DNSPOD_CONFIG", "config.json"),
		"Configuration file (.json, otherwise YAML)")
	fs.StringVar(&o.logPath, "l",
		envOr("DYNAMIC_DNSPOD_LOG_FILE", ""),
		"Log file path (empty logs to stderr)")
	fs.StringVar(&o.pidPath, "p",
		envOr("DYNAMIC_DNSPOD_PID_FILE", ""),
		"PID file path (empty disables)")
	fs.StringVar(&o.action, "d", "",
		"Service action: start, stop, restart, install, uninstall, status")

	fs.StringVar(&o.logLevel, "log-level",
		envOr("DYNAMIC_DNSPOD_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	fs.IntVar(&o.healthPort, "health-port",
		envOrInt("DYNAMIC_DNSPOD_HEALTH_PORT", 0),
		"Port for /healthz, /readyz and /metrics (0 to disable)")
	fs.BoolVar(&o.once, "once",
		envOrBool("DYNAMIC_DNSPOD_ONCE", false),
		"Run exactly one reconciliation cycle and exit")
	fs.BoolVar(&o.dryRun, "dry-run",
		envOrBool("DYNAMIC_DNSPOD_DRY_RUN", false),
		"Log planned record changes without applying them")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout",
		envOrDuration("DYNAMIC_DNSPOD_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Maximum time to wait for the loop to stop when the service is stopped")
	fs.BoolVar(&o.init, "init", false,
		"Interactively write a starter configuration to the -c path and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.action != "" && !isServiceAction(o.action) {
		return o, fmt.Errorf("unknown -d action %q (want one of %s)", o.action, strings.Join(serviceActions, ", "))
	}
	return o, nil
}

// run loads the configuration, builds the pipeline and blocks until ctx is
// cancelled (or after one cycle in once mode).
func run(ctx context.Context, opts options, log *slog.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	prov, err := newProvider(ctx, cfg, log)
	if err != nil {
		return err
	}

	removePID, err := writePIDFile(opts.pidPath)
	if err != nil {
		return err
	}
	defer removePID()

	ctrl := controller.New(
		probe.NewTCPProber(cfg.Probe.Address, cfg.ProbeTimeout()),
		prov, cfg.Domains, log,
		controller.Config{
			Interval: cfg.Interval(),
			DryRun:   opts.dryRun,
			Once:     opts.once,
		})

	log.Info("starting dynamic-dnspod",
		"config", opts.configPath,
		"provider", cfg.Provider,
		"records", len(cfg.Domains),
		"probe", cfg.Probe.Address,
		"interval", cfg.Interval().String(),
		"dry-run", opts.dryRun,
		"once", opts.once,
	)

	return serve(ctx, ctrl, opts.healthPort, log)
}

// serve runs the controller, the health server and the SIGHUP watcher until
// the controller returns or one of them fails.
func serve(ctx context.Context, ctrl *controller.Controller, healthPort int, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ctrl.Run(gctx)
	})
	if healthPort != 0 {
		g.Go(func() error {
			return serveHealth(gctx, healthPort, ctrl.IsReady, log)
		})
	}
	g.Go(func() error {
		watchHangup(gctx, hup, ctrl.Trigger, log)
		return nil
	})
	return g.Wait()
}

// newProvider builds the record backend named by cfg.Provider. The RFC2136
// backend is checked with a SOA query per distinct domain before use.
func newProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderDNSPod:
		return dnspod.New(dnspod.Config{
			Token:           cfg.Token,
			RecordListURL:   cfg.Addr.RecordList,
			RecordCreateURL: cfg.Addr.RecordCreate,
			RecordDDNSURL:   cfg.Addr.RecordDDNS,
			Timeout:         cfg.APITimeout(),
			Retries:         cfg.API.Retries,
			RateLimit:       cfg.API.RateLimit,
			UserAgent:       cfg.API.UserAgent,
		}, log), nil

	case config.ProviderRFC2136:
		prov := rfc2136.New(rfc2136.Config{
			Host:          cfg.RFC2136.Host,
			Port:          cfg.RFC2136.Port,
			TSIGKeyName:   cfg.RFC2136.TSIGKey,
			TSIGSecret:    cfg.RFC2136.TSIGSecret,
			TSIGSecretAlg: cfg.RFC2136.TSIGAlg,
			MinTTL:        int64(cfg.RFC2136.MinTTL),
			Timeout:       cfg.RFC2136Timeout(),
		}, log)

		seen := make(map[string]bool)
		for _, d := range cfg.Domains {
			zone := strings.ToLower(d.Domain)
			if seen[zone] {
				continue
			}
			seen[zone] = true
			pctx, cancel := context.WithTimeout(ctx, cfg.RFC2136Timeout())
			err := prov.Preflight(pctx, zone)
			cancel()
			if err != nil {
				return nil, err
			}
			log.Info("rfc2136 preflight ok", "zone", zone, "host", cfg.RFC2136.Host)
		}
		return prov, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// newHealthMux serves /healthz (liveness), /readyz (readiness) and /metrics.
func newHealthMux(ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "not ready")
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serveHealth runs the health server on port until ctx is cancelled, then
// shuts it down gracefully.
func serveHealth(ctx context.Context, port int, ready func() bool, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newHealthMux(ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("health server listening", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("health server shutdown error", "err", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// watchHangup calls trigger for every signal received on sig until ctx is
// cancelled.
func watchHangup(ctx context.Context, sig <-chan os.Signal, trigger func(), log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			log.Info("signal received, reconciling now", "signal", s.String())
			trigger()
		}
	}
}

// writePIDFile writes the current process id to path and returns a function
// that removes it. An empty path is a no-op.
func writePIDFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// openLogOutput opens path for appending, or returns stderr when path is empty.
func openLogOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stderr}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newLogger returns a JSON logger writing to w at the given level.
func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// envOr returns the value of the environment variable named key, or fallback
// if the variable is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrInt returns the environment variable named key parsed as int, or fallback.
func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envOrBool returns the environment variable named key parsed as bool, or fallback.
func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envOrDuration returns the environment variable named key parsed as
// time.Duration, or fallback.
func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
