// Package provider defines the Provider interface for DNS backends.
package provider

import (
	"context"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// Provider is implemented by every DNS backend. It is the Update Client the
// reconciler talks to: one call per operation, no caching between calls.
type Provider interface {
	// ListRecords returns the records the backend holds for subDomain under
	// domain. An empty slice with a nil error means the record is absent; a
	// non-nil error means the listing itself failed and nothing can be
	// concluded about existence.
	ListRecords(ctx context.Context, domain, subDomain string) ([]record.Remote, error)

	// CreateRecord creates spec with the given value and returns the new
	// record's identifier.
	CreateRecord(ctx context.Context, spec record.Spec, value string) (string, error)

	// UpdateRecord changes the value of the existing record recordID.
	UpdateRecord(ctx context.Context, spec record.Spec, recordID, value string) error
}
