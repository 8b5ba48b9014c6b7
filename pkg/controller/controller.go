// Package controller implements the DDNS reconciliation loop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bkero/dynamic-dnspod/pkg/probe"
	"github.com/bkero/dynamic-dnspod/pkg/provider"
	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// Prometheus metrics registered on the default registry.
var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynamic_dnspod_reconciliations_total",
		Help: "Total number of reconciliation cycles by result.",
	}, []string{"result"})

	reconciliationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dynamic_dnspod_reconciliation_duration_seconds",
		Help:    "Duration of reconciliation cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	recordsManaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dynamic_dnspod_records_managed",
		Help: "Number of record specs reconciled each cycle.",
	})

	ipChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dynamic_dnspod_ip_changes_total",
		Help: "Number of times the probed public IP differed from the previous cycle.",
	})

	dnsOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dynamic_dnspod_dns_operations_total",
		Help: "Total number of DNS operations by type and result.",
	}, []string{"op", "result"})
)

// Cycle results recorded in reconciliationsTotal.
const (
	resultSuccess    = "success"
	resultError      = "error"
	resultProbeError = "probe_error"
)

// Config holds controller tuning parameters.
type Config struct {
	// Interval is the sleep between cycles. Default: 5m.
	Interval time.Duration
	// DryRun logs decided actions without calling CreateRecord/UpdateRecord.
	DryRun bool
	// Once causes the controller to run exactly one cycle then exit.
	Once bool
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
}

// Controller is the scheduler: probe the public IP, reconcile every record
// spec in order, sleep, repeat.
type Controller struct {
	prober     probe.Prober
	reconciler *Reconciler
	specs      []record.Spec
	log        *slog.Logger
	cfg        Config
	ready      atomic.Bool // set true after first fully successful cycle
	trigger    chan struct{}
	lastIP     string // only touched by the Run goroutine
}

// New returns a Controller wired with the given prober, provider, specs and config.
func New(prober probe.Prober, prov provider.Provider, specs []record.Spec, log *slog.Logger, cfg Config) *Controller {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		prober:     prober,
		reconciler: NewReconciler(prov, log, cfg.DryRun),
		specs:      specs,
		log:        log,
		cfg:        cfg,
		trigger:    make(chan struct{}, 1),
	}
}

// IsReady reports whether at least one cycle has completed without error.
// Used by the health server to gate the readiness endpoint.
func (c *Controller) IsReady() bool {
	return c.ready.Load()
}

// Trigger asks the loop to run a cycle now instead of waiting out the
// interval. Extra triggers while one is pending are dropped.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
// When cfg.Once is true it runs a single cycle and returns its error.
//
// A failed cycle is logged and the next one still runs after the normal
// interval; nothing short of cancellation stops the loop.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.Once {
		return c.cycle(ctx)
	}

	// Fires immediately for the first cycle, then every cfg.Interval.
	next := time.NewTimer(0)
	defer next.Stop()

	run := func() {
		if err := c.cycle(ctx); err != nil {
			c.log.Error("reconciliation cycle failed", "err", err)
		}
		next.Reset(c.cfg.Interval)
		c.log.Debug("sleeping until next cycle", "interval", c.cfg.Interval.String())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-next.C:
			run()
		case <-c.trigger:
			c.log.Info("reconciliation triggered")
			next.Stop()
			run()
		}
	}
}

// cycle executes one probe → reconcile-all pass. Record failures are
// isolated: every spec is attempted and the errors are joined.
func (c *Controller) cycle(ctx context.Context) (retErr error) {
	start := time.Now()
	result := resultSuccess
	defer func() {
		reconciliationDuration.Observe(time.Since(start).Seconds())
		reconciliationsTotal.WithLabelValues(result).Inc()
		if retErr == nil {
			c.ready.Store(true)
		}
	}()

	ip, err := c.prober.CurrentIP(ctx)
	if err != nil {
		result = resultProbeError
		return fmt.Errorf("probe current ip: %w", err)
	}
	if ip != c.lastIP {
		if c.lastIP != "" {
			ipChangesTotal.Inc()
		}
		c.log.Info("public ip", "ip", ip, "previous", c.lastIP)
		c.lastIP = ip
	}

	recordsManaged.Set(float64(len(c.specs)))

	var errs []error
	for _, spec := range c.specs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := c.reconciler.Reconcile(ctx, spec, ip); err != nil {
			c.log.Error("reconcile failed",
				"domain", spec.Domain, "sub_domain", spec.SubDomain, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", spec.FQDN(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		result = resultError
		return err
	}
	return nil
}
