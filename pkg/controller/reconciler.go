package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bkero/dynamic-dnspod/pkg/plan"
	"github.com/bkero/dynamic-dnspod/pkg/provider"
	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// tickLayout is the timestamp format of the per-record "period tick" line.
const tickLayout = "2006-01-02 15:04:05"

// Reconciler brings one record spec in line with the current IP: list,
// decide, then at most one create or update.
type Reconciler struct {
	provider provider.Provider
	log      *slog.Logger
	dryRun   bool
	now      func() time.Time
}

// NewReconciler returns a Reconciler that mutates records through prov.
// With dryRun set it logs the decided action instead of applying it.
func NewReconciler(prov provider.Provider, log *slog.Logger, dryRun bool) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{provider: prov, log: log, dryRun: dryRun, now: time.Now}
}

// Reconcile runs one list → decide → mutate pass for spec. A failed listing
// returns the error without creating anything.
func (r *Reconciler) Reconcile(ctx context.Context, spec record.Spec, ip string) (plan.Action, error) {
	spec = spec.WithDefaults()
	log := r.log.With("domain", spec.Domain, "sub_domain", spec.SubDomain, "record_type", spec.RecordType)
	log.Info("period tick", "tick_time", r.now().Format(tickLayout))

	if inferred := record.InferRecordType(ip); spec.RecordType != inferred &&
		(spec.RecordType == record.RecordTypeA || spec.RecordType == record.RecordTypeAAAA) {
		log.Warn("address family does not match record type", "ip", ip, "inferred_type", inferred)
	}

	remotes, err := r.provider.ListRecords(ctx, spec.Domain, spec.SubDomain)
	if err != nil {
		dnsOperationsTotal.WithLabelValues("list", "error").Inc()
		return plan.Action{}, fmt.Errorf("list records: %w", err)
	}
	dnsOperationsTotal.WithLabelValues("list", "success").Inc()

	action := plan.Decide(spec, remotes, ip)

	switch action.Kind {
	case plan.None:
		log.Debug("reconcile: record up to date", "record_id", action.RecordID, "value", ip)
		return action, nil
	case plan.Create:
		if r.dryRun {
			log.Info("dry-run: would create", "value", ip)
			return action, nil
		}
		id, err := r.provider.CreateRecord(ctx, spec, ip)
		if err != nil {
			dnsOperationsTotal.WithLabelValues("create", "error").Inc()
			return action, fmt.Errorf("create record: %w", err)
		}
		dnsOperationsTotal.WithLabelValues("create", "success").Inc()
		action.RecordID = id
		log.Info("reconcile: record created", "record_id", id, "value", ip)
	case plan.Update:
		if r.dryRun {
			log.Info("dry-run: would update",
				"record_id", action.RecordID, "old_value", action.Current, "new_value", ip)
			return action, nil
		}
		if err := r.provider.UpdateRecord(ctx, spec, action.RecordID, ip); err != nil {
			dnsOperationsTotal.WithLabelValues("update", "error").Inc()
			return action, fmt.Errorf("update record %s: %w", action.RecordID, err)
		}
		dnsOperationsTotal.WithLabelValues("update", "success").Inc()
		log.Info("reconcile: record updated",
			"record_id", action.RecordID, "old_value", action.Current, "new_value", ip)
	}
	return action, nil
}
