// Package fake provides an in-memory Provider implementation for testing.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// Operation names recorded in the call history.
const (
	OpList   = "list"
	OpCreate = "create"
	OpUpdate = "update"
)

// Call is a snapshot of a single Provider call, kept for test assertions.
type Call struct {
	Op         string
	Domain     string
	SubDomain  string
	RecordType string
	RecordLine string
	RecordID   string
	Value      string
}

// Provider is an in-memory DNS provider for testing. ListRecords returns
// every record stored for the domain in insertion order, regardless of
// sub-domain, so callers must do their own name matching.
type Provider struct {
	mu      sync.Mutex
	zones   map[string][]record.Remote // keyed by lower-cased domain
	history []Call
	nextID  int

	listErr   error
	createErr error
	updateErr error
}

// New returns an empty Provider.
func New() *Provider {
	return &Provider{zones: make(map[string][]record.Remote), nextID: 1000}
}

// Seed appends records to domain. Records with no ID get one assigned.
func (p *Provider) Seed(domain string, remotes ...record.Remote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := strings.ToLower(domain)
	for _, r := range remotes {
		if r.ID == "" {
			r.ID = p.allocID()
		}
		p.zones[k] = append(p.zones[k], r)
	}
}

// ListRecords returns a copy of every record stored for domain.
func (p *Provider) ListRecords(_ context.Context, domain, subDomain string) ([]record.Remote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, Call{Op: OpList, Domain: domain, SubDomain: subDomain})
	if p.listErr != nil {
		return nil, p.listErr
	}
	stored := p.zones[strings.ToLower(domain)]
	out := make([]record.Remote, len(stored))
	copy(out, stored)
	return out, nil
}

// CreateRecord stores a new record and returns its generated ID.
func (p *Provider) CreateRecord(_ context.Context, spec record.Spec, value string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, Call{
		Op:         OpCreate,
		Domain:     spec.Domain,
		SubDomain:  spec.SubDomain,
		RecordType: spec.RecordType,
		RecordLine: spec.RecordLine,
		Value:      value,
	})
	if p.createErr != nil {
		return "", p.createErr
	}

	id := p.allocID()
	k := strings.ToLower(spec.Domain)
	p.zones[k] = append(p.zones[k], record.Remote{
		ID:    id,
		Name:  spec.SubDomain,
		Value: value,
		Type:  spec.Type(),
	})
	return id, nil
}

// UpdateRecord changes the value of recordID in place.
func (p *Provider) UpdateRecord(_ context.Context, spec record.Spec, recordID, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, Call{
		Op:         OpUpdate,
		Domain:     spec.Domain,
		SubDomain:  spec.SubDomain,
		RecordType: spec.RecordType,
		RecordLine: spec.RecordLine,
		RecordID:   recordID,
		Value:      value,
	})
	if p.updateErr != nil {
		return p.updateErr
	}

	stored := p.zones[strings.ToLower(spec.Domain)]
	for i := range stored {
		if stored[i].ID == recordID {
			stored[i].Value = value
			return nil
		}
	}
	return fmt.Errorf("record %s not found in %s", recordID, spec.Domain)
}

// SetListError makes every subsequent ListRecords call fail with err.
// A nil err clears the failure.
func (p *Provider) SetListError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErr = err
}

// SetCreateError makes every subsequent CreateRecord call fail with err.
func (p *Provider) SetCreateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// SetUpdateError makes every subsequent UpdateRecord call fail with err.
func (p *Provider) SetUpdateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateErr = err
}

// History returns all calls made so far, oldest first.
func (p *Provider) History() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.history))
	copy(out, p.history)
	return out
}

// Mutations returns the create and update calls made so far, oldest first.
func (p *Provider) Mutations() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Call
	for _, c := range p.history {
		if c.Op != OpList {
			out = append(out, c)
		}
	}
	return out
}

// Records returns a copy of the records stored for domain.
func (p *Provider) Records(domain string) []record.Remote {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored := p.zones[strings.ToLower(domain)]
	out := make([]record.Remote, len(stored))
	copy(out, stored)
	return out
}

// Reset clears the call history but keeps stored records.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}

func (p *Provider) allocID() string {
	p.nextID++
	return fmt.Sprint(p.nextID)
}
