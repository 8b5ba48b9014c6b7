package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	fake_probe "github.com/bkero/dynamic-dnspod/pkg/probe/fake"
	fake_provider "github.com/bkero/dynamic-dnspod/pkg/provider/fake"
	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// helpers

func specs(subs ...string) []record.Spec {
	out := make([]record.Spec, len(subs))
	for i, s := range subs {
		out[i] = record.Spec{Domain: "example.com", SubDomain: s}
	}
	return out
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// perDomainErrProvider fails ListRecords for one sub-domain and delegates
// everything else to a fake provider.
type perDomainErrProvider struct {
	*fake_provider.Provider
	failSub string
}

func (p *perDomainErrProvider) ListRecords(ctx context.Context, domain, sub string) ([]record.Remote, error) {
	if sub == p.failSub {
		return nil, errors.New("list failed")
	}
	return p.Provider.ListRecords(ctx, domain, sub)
}

// --- Prometheus metrics ---

func TestCycle_MetricsIncrementOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultSuccess))

	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	after := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultSuccess))
	if after <= before {
		t.Errorf("reconciliations_total{result=success} did not increment: before=%v after=%v", before, after)
	}
}

func TestCycle_MetricsIncrementOnProbeError(t *testing.T) {
	before := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultProbeError))

	prober := fake_probe.New("")
	prober.SetError(errors.New("i/o timeout"))
	c := New(prober, fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})
	_ = c.Run(context.Background())

	after := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultProbeError))
	if after <= before {
		t.Errorf("reconciliations_total{result=probe_error} did not increment: before=%v after=%v", before, after)
	}
}

func TestCycle_MetricsIncrementOnRecordError(t *testing.T) {
	before := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultError))

	prov := fake_provider.New()
	prov.SetListError(errors.New("unusable"))
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home"), slog.Default(), Config{Once: true})
	_ = c.Run(context.Background())

	after := testutil.ToFloat64(reconciliationsTotal.WithLabelValues(resultError))
	if after <= before {
		t.Errorf("reconciliations_total{result=error} did not increment: before=%v after=%v", before, after)
	}
}

func TestCycle_RecordsManagedGauge(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("a", "b"), slog.Default(), Config{Once: true})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := testutil.ToFloat64(recordsManaged); got != 2 {
		t.Errorf("records_managed = %v, want 2", got)
	}
}

func TestCycle_IPChangeCounted(t *testing.T) {
	prober := fake_probe.NewSequence(
		fake_probe.Result{IP: "203.0.113.1"},
		fake_probe.Result{IP: "203.0.113.1"},
		fake_probe.Result{IP: "203.0.113.5"},
	)
	c := New(prober, fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})

	before := testutil.ToFloat64(ipChangesTotal)
	for i := 0; i < 3; i++ {
		if err := c.Run(context.Background()); err != nil {
			t.Fatalf("Run %d error: %v", i, err)
		}
	}
	if got := testutil.ToFloat64(ipChangesTotal); got != before+1 {
		t.Errorf("ip_changes_total = %v, want %v", got, before+1)
	}
}

// --- applyDefaults ---

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Interval)
	}
}

func TestApplyDefaults_PreservesNonZero(t *testing.T) {
	cfg := Config{Interval: 30 * time.Second}
	cfg.applyDefaults()
	if cfg.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Interval)
	}
}

// --- Once mode ---

func TestRun_OnceMode_CreatesRecords(t *testing.T) {
	prov := fake_provider.New()
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home"), slog.Default(), Config{Once: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	m := prov.Mutations()
	if len(m) != 1 || m[0].Op != fake_provider.OpCreate {
		t.Fatalf("mutations = %+v, want a single create", m)
	}
}

func TestRun_OnceMode_NoChanges(t *testing.T) {
	prov := fake_provider.New()
	prov.Seed("example.com", remote("7", "home", "203.0.113.5"))
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home"), slog.Default(), Config{Once: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n := len(prov.Mutations()); n != 0 {
		t.Errorf("expected 0 mutations for no-op, got %d", n)
	}
}

func TestRun_OnceMode_ProbeError_NoProviderCalls(t *testing.T) {
	prober := fake_probe.New("")
	prober.SetError(errors.New("dial tcp: i/o timeout"))
	prov := fake_provider.New()
	c := New(prober, prov, specs("home", "www"), slog.Default(), Config{Once: true})

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected probe error, got nil")
	}
	if !strings.Contains(err.Error(), "probe current ip") {
		t.Errorf("error = %v, want probe context", err)
	}
	if n := len(prov.History()); n != 0 {
		t.Errorf("expected 0 provider calls after probe failure, got %d", n)
	}
}

func TestRun_OnceMode_RecordFailuresIsolated(t *testing.T) {
	base := fake_provider.New()
	prov := &perDomainErrProvider{Provider: base, failSub: "bad"}
	c := New(fake_probe.New("203.0.113.5"), prov, specs("bad", "good"), slog.Default(), Config{Once: true})

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected joined error for the failing record")
	}
	if !strings.Contains(err.Error(), "bad.example.com") {
		t.Errorf("error %q does not name the failing record", err)
	}

	m := base.Mutations()
	if len(m) != 1 || m[0].SubDomain != "good" {
		t.Errorf("mutations = %+v, want a single create for good", m)
	}
}

func TestRun_OnceMode_SpecsInConfigOrder(t *testing.T) {
	prov := fake_provider.New()
	c := New(fake_probe.New("203.0.113.5"), prov, specs("c", "a", "b"), slog.Default(), Config{Once: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	var order []string
	for _, call := range prov.History() {
		if call.Op == fake_provider.OpList {
			order = append(order, call.SubDomain)
		}
	}
	if strings.Join(order, ",") != "c,a,b" {
		t.Errorf("list order = %v, want [c a b]", order)
	}
}

func TestRun_OnceMode_DuplicateSpecsEachReconciled(t *testing.T) {
	prov := fake_provider.New()
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home", "home"), slog.Default(), Config{Once: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	// The first entry creates; the second sees the created record and does nothing.
	lists := 0
	for _, call := range prov.History() {
		if call.Op == fake_provider.OpList {
			lists++
		}
	}
	if lists != 2 {
		t.Errorf("list calls = %d, want 2", lists)
	}
	if n := len(prov.Mutations()); n != 1 {
		t.Errorf("mutations = %d, want 1", n)
	}
}

// --- Dry-run mode ---

func TestRun_DryRun_SkipsMutations(t *testing.T) {
	prov := fake_provider.New()
	prov.Seed("example.com", remote("7", "www", "203.0.113.1"))
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home", "www"), slog.Default(), Config{Once: true, DryRun: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n := len(prov.Mutations()); n != 0 {
		t.Errorf("expected 0 mutations in dry-run, got %d", n)
	}
}

// --- Loop mode ---

func TestRun_ContextCancellation_ReturnsContextCanceled(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_ProbeTimeout_NextCycleStillRuns(t *testing.T) {
	prober := fake_probe.NewSequence(
		fake_probe.Result{Err: errors.New("dial tcp ns1.dnspod.net:6666: i/o timeout")},
		fake_probe.Result{IP: "203.0.113.5"},
	)
	prov := fake_provider.New()
	c := New(prober, prov, specs("home"), slog.Default(), Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	ok := waitFor(t, 2*time.Second, func() bool { return len(prov.Mutations()) > 0 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if !ok {
		t.Fatal("no reconciliation after the failed probe cycle")
	}
	if prober.Calls() < 2 {
		t.Errorf("probe calls = %d, want at least 2", prober.Calls())
	}
	// The first (failed) cycle must not have reached the provider: every
	// call in history belongs to a cycle with a good address.
	for _, call := range prov.Mutations() {
		if call.Value != "203.0.113.5" {
			t.Errorf("unexpected mutation %+v", call)
		}
	}
}

func TestRun_LoopContinuesOnRecordErrors(t *testing.T) {
	prov := fake_provider.New()
	prov.SetListError(errors.New("transient"))
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home"), slog.Default(), Config{
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	ok := waitFor(t, 2*time.Second, func() bool { return len(prov.History()) >= 3 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled after transient errors, got %v", err)
	}
	if !ok {
		t.Errorf("expected repeated cycles, got %d list calls", len(prov.History()))
	}
}

func TestRun_SteadyStateIsIdempotent(t *testing.T) {
	prov := fake_provider.New()
	c := New(fake_probe.New("203.0.113.5"), prov, specs("home"), slog.Default(), Config{
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return len(prov.History()) >= 6 })
	cancel()
	<-errCh

	if n := len(prov.Mutations()); n != 1 {
		t.Errorf("mutations over several cycles = %d, want exactly 1 (the initial create)", n)
	}
}

func TestRun_TriggerRunsCycleEarly(t *testing.T) {
	prober := fake_probe.New("203.0.113.1")
	prov := fake_provider.New()
	c := New(prober, prov, specs("home"), slog.Default(), Config{
		Interval: time.Hour, // disable periodic tick
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	// The initial cycle creates the record.
	if !waitFor(t, 2*time.Second, func() bool { return len(prov.Mutations()) == 1 }) {
		t.Fatal("initial cycle did not run")
	}

	prober.SetIP("203.0.113.5")
	c.Trigger()

	if !waitFor(t, 2*time.Second, func() bool { return len(prov.Mutations()) == 2 }) {
		t.Fatalf("triggered cycle did not update, mutations = %+v", prov.Mutations())
	}
	cancel()
	<-errCh

	m := prov.Mutations()
	if m[1].Op != fake_provider.OpUpdate || m[1].Value != "203.0.113.5" {
		t.Errorf("second mutation = %+v, want update to 203.0.113.5", m[1])
	}
}

func TestTrigger_DoesNotBlock(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked without a running loop")
	}
}

// --- nil log branch in New ---

func TestNew_NilLog_UsesDefault(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), nil, Config{Once: true})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run with nil logger: %v", err)
	}
}

// --- IsReady ---

func TestIsReady_FalseBeforeFirstCycle(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})
	if c.IsReady() {
		t.Error("IsReady() = true before first cycle, want false")
	}
}

func TestIsReady_TrueAfterSuccessfulCycle(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !c.IsReady() {
		t.Error("IsReady() = false after successful cycle, want true")
	}
}

func TestIsReady_FalseAfterFailedCycle(t *testing.T) {
	prober := fake_probe.New("")
	prober.SetError(errors.New("timeout"))
	c := New(prober, fake_provider.New(), specs("home"), slog.Default(), Config{Once: true})

	_ = c.Run(context.Background()) // expect error; ignore it
	if c.IsReady() {
		t.Error("IsReady() = true after failed cycle, want false")
	}
}

func TestIsReady_ConcurrentReads(t *testing.T) {
	c := New(fake_probe.New("203.0.113.5"), fake_provider.New(), specs("home"), slog.Default(), Config{
		Interval: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.IsReady()
			}
		}()
	}
	wg.Wait()

	if !waitFor(t, 2*time.Second, c.IsReady) {
		t.Error("controller never became ready")
	}
	cancel()
	<-errCh
}
