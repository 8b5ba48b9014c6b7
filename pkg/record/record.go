// Package record defines the desired (Spec) and observed (Remote) DNS record types.
package record

import (
	"fmt"
	"net"
	"strings"
)

// DNS record type constants.
const (
	RecordTypeA     = "A"
	RecordTypeAAAA  = "AAAA"
	RecordTypeCNAME = "CNAME"
	RecordTypeTXT   = "TXT"

	// DefaultRecordType is applied to a Spec with no record_type.
	DefaultRecordType = RecordTypeA

	// DefaultRecordLine is DNSPod's catch-all resolution line.
	DefaultRecordLine = "默认"

	// Apex is the sub-domain label naming the root of a domain.
	Apex = "@"
)

// Spec is one desired-state entry from the configuration.
type Spec struct {
	// Domain is the root domain, e.g. "example.com".
	Domain string `yaml:"domain" json:"domain"`
	// SubDomain is the label under Domain, e.g. "home" or "@".
	SubDomain string `yaml:"sub_domain" json:"sub_domain"`
	// RecordType is the DNS record type. Empty means DefaultRecordType.
	RecordType string `yaml:"record_type,omitempty" json:"record_type,omitempty"`
	// RecordLine is the ISP/routing line selector the DNSPod API requires.
	RecordLine string `yaml:"record_line,omitempty" json:"record_line,omitempty"`
}

// WithDefaults returns a copy of s with RecordType and RecordLine filled in.
func (s Spec) WithDefaults() Spec {
	if s.RecordType == "" {
		s.RecordType = DefaultRecordType
	}
	s.RecordType = strings.ToUpper(s.RecordType)
	if s.RecordLine == "" {
		s.RecordLine = DefaultRecordLine
	}
	return s
}

// Type returns the record type, defaulting to A when unset.
func (s Spec) Type() string {
	if s.RecordType == "" {
		return DefaultRecordType
	}
	return strings.ToUpper(s.RecordType)
}

// FQDN returns the fully-qualified name without a trailing dot.
// The apex label "@" and an empty label both map to the bare domain.
func (s Spec) FQDN() string {
	domain := strings.TrimSuffix(s.Domain, ".")
	if s.SubDomain == "" || s.SubDomain == Apex {
		return domain
	}
	return s.SubDomain + "." + domain
}

// String returns a human-readable representation of the spec.
func (s Spec) String() string {
	return fmt.Sprintf("%s %s (line %s)", s.FQDN(), s.Type(), s.RecordLine)
}

// Remote is a DNS record as currently stored by the remote service.
// It is fetched fresh every cycle and never cached.
type Remote struct {
	ID    string
	Name  string
	Value string
	// Type is empty when the backend does not report it.
	Type string
}

// String returns a human-readable representation of the remote record.
func (r Remote) String() string {
	return fmt.Sprintf("#%s %s %s %s", r.ID, r.Name, r.Type, r.Value)
}

// InferRecordType returns the DNS record type inferred from target.
// A valid IPv4 address → "A", a valid IPv6 address → "AAAA", anything else → "CNAME".
func InferRecordType(target string) string {
	ip := net.ParseIP(target)
	if ip == nil {
		return RecordTypeCNAME
	}
	if ip.To4() != nil {
		return RecordTypeA
	}
	return RecordTypeAAAA
}
