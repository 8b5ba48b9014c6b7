// Package rfc2136 implements a DNS provider using RFC2136 dynamic updates.
// Each record's domain is treated as its zone.
package rfc2136

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// dnsTransferer abstracts dns.Transfer.In for testability.
type dnsTransferer interface {
	In(m *dns.Msg, addr string) (chan *dns.Envelope, error)
}

// dnsExchanger abstracts dns.Client.ExchangeContext for testability.
type dnsExchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// defaultTimeout is the DNS operation timeout applied when none is configured.
const defaultTimeout = 10 * time.Second

// defaultTTL is the TTL given to records this provider creates.
const defaultTTL = 300

// Config holds all RFC2136 provider configuration.
type Config struct {
	Host          string
	Port          int
	TSIGKeyName   string
	TSIGSecret    string
	TSIGSecretAlg string // e.g. "hmac-sha256" (trailing dot optional)
	MinTTL        int64
	Timeout       time.Duration // DNS operation timeout; 0 uses defaultTimeout (10s)
}

// Provider implements provider.Provider against an RFC2136-capable DNS server.
type Provider struct {
	cfg           Config
	server        string // "host:port"
	tsigAlg       string // normalised algorithm name (with trailing dot)
	log           *slog.Logger
	newTransferer func() dnsTransferer // factory: creates a fresh transferrer per ListRecords() call
	exchanger     dnsExchanger
}

// New returns a configured RFC2136 Provider.
func New(cfg Config, log *slog.Logger) *Provider {
	if cfg.Port == 0 {
		cfg.Port = 53
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	alg := normaliseTSIGAlg(cfg.TSIGSecretAlg)
	server := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	tsigSecret := map[string]string{
		dns.Fqdn(cfg.TSIGKeyName): cfg.TSIGSecret,
	}

	return &Provider{
		cfg:     cfg,
		server:  server,
		tsigAlg: alg,
		log:     log,
		newTransferer: func() dnsTransferer {
			return &dns.Transfer{TsigSecret: tsigSecret, DialTimeout: cfg.Timeout, ReadTimeout: cfg.Timeout}
		},
		exchanger: &dns.Client{
			Net:        "tcp",
			TsigSecret: tsigSecret,
			Timeout:    cfg.Timeout,
		},
	}
}

// newWithDeps constructs a Provider with injected transport dependencies for testing.
func newWithDeps(cfg Config, log *slog.Logger, t dnsTransferer, e dnsExchanger) *Provider {
	if cfg.Port == 0 {
		cfg.Port = 53
	}
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		cfg:           cfg,
		server:        net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		tsigAlg:       normaliseTSIGAlg(cfg.TSIGSecretAlg),
		log:           log,
		newTransferer: func() dnsTransferer { return t },
		exchanger:     e,
	}
}

// Preflight validates connectivity and TSIG credentials by sending a SOA query
// for zone to the configured DNS server. Returns an error if the server is
// unreachable or responds with a non-success rcode (e.g. NOTAUTH on bad TSIG).
func (p *Provider) Preflight(ctx context.Context, zone string) error {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(zone), dns.TypeSOA)
	p.sign(m)
	r, _, err := p.exchanger.ExchangeContext(ctx, m, p.server)
	if err != nil {
		return fmt.Errorf("preflight SOA query for %s to %s failed: %w", zone, p.server, err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("preflight SOA query for %s failed: rcode %s (%d), check rfc2136.host and TSIG credentials",
			zone, dns.RcodeToString[r.Rcode], r.Rcode)
	}
	return nil
}

// ListRecords transfers the domain's zone via AXFR and returns the A, AAAA,
// CNAME and TXT records named <subDomain>.<domain>. Each record's ID is its
// RR text form, which UpdateRecord uses to remove it.
func (p *Provider) ListRecords(ctx context.Context, domain, subDomain string) ([]record.Remote, error) {
	zone := dns.Fqdn(domain)
	want := dns.Fqdn(record.Spec{Domain: domain, SubDomain: subDomain}.FQDN())

	m := new(dns.Msg)
	m.SetAxfr(zone)
	p.sign(m)

	env, err := p.newTransferer().In(m, p.server)
	if err != nil {
		return nil, fmt.Errorf("axfr %s: %w", domain, err)
	}

	remotes := []record.Remote{}
	for {
		select {
		case <-ctx.Done():
			// Unblock the transfer goroutine so it can finish and exit.
			go drain(env)
			return nil, ctx.Err()
		case e, ok := <-env:
			if !ok {
				return remotes, nil
			}
			if e.Error != nil {
				return nil, fmt.Errorf("axfr %s: %w", domain, e.Error)
			}
			for _, rr := range e.RR {
				if !strings.EqualFold(rr.Header().Name, want) {
					continue
				}
				if r, ok := rrToRemote(rr, zone); ok {
					remotes = append(remotes, r)
				}
			}
		}
	}
}

func drain(env <-chan *dns.Envelope) {
	for range env {
	}
}

// CreateRecord inserts a new RR for spec and returns its text form as the ID.
func (p *Provider) CreateRecord(ctx context.Context, spec record.Spec, value string) (string, error) {
	spec = spec.WithDefaults()
	rr, err := p.specToRR(spec, value, defaultTTL)
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(spec.Domain))
	m.Insert([]dns.RR{rr})
	if err := p.exchange(ctx, m); err != nil {
		return "", err
	}
	return rr.String(), nil
}

// UpdateRecord replaces the RR identified by recordID (its text form, as
// returned by ListRecords) with one carrying value, in a single UPDATE.
func (p *Provider) UpdateRecord(ctx context.Context, spec record.Spec, recordID, value string) error {
	spec = spec.WithDefaults()
	old, err := dns.NewRR(recordID)
	if err != nil || old == nil {
		return fmt.Errorf("record id %q is not a resource record: %v", recordID, err)
	}
	if !strings.EqualFold(old.Header().Name, dns.Fqdn(spec.FQDN())) {
		return fmt.Errorf("record id %q does not belong to %s", recordID, spec.FQDN())
	}

	rr, err := p.specToRR(spec, value, int64(old.Header().Ttl))
	if err != nil {
		return err
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(spec.Domain))
	m.Remove([]dns.RR{old})
	m.Insert([]dns.RR{rr})
	return p.exchange(ctx, m)
}

// exchange signs and sends an UPDATE message and checks the rcode.
func (p *Provider) exchange(ctx context.Context, m *dns.Msg) error {
	p.sign(m)
	r, _, err := p.exchanger.ExchangeContext(ctx, m, p.server)
	if err != nil {
		return fmt.Errorf("dns update exchange: %w", err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("dns update failed: rcode %s (%d)", dns.RcodeToString[r.Rcode], r.Rcode)
	}
	return nil
}

func (p *Provider) sign(m *dns.Msg) {
	if p.cfg.TSIGKeyName != "" {
		m.SetTsig(dns.Fqdn(p.cfg.TSIGKeyName), p.tsigAlg, 300, time.Now().Unix())
	}
}

// rrToRemote converts a miekg/dns RR to a Remote record named relative to
// zone. Returns false for unsupported or zone-metadata record types (SOA, NS,
// TSIG, etc.).
func rrToRemote(rr dns.RR, zone string) (record.Remote, bool) {
	r := record.Remote{ID: rr.String(), Name: relativeName(rr.Header().Name, zone)}

	switch v := rr.(type) {
	case *dns.A:
		r.Type, r.Value = record.RecordTypeA, v.A.String()
	case *dns.AAAA:
		r.Type, r.Value = record.RecordTypeAAAA, v.AAAA.String()
	case *dns.CNAME:
		r.Type, r.Value = record.RecordTypeCNAME, strings.TrimSuffix(v.Target, ".")
	case *dns.TXT:
		r.Type, r.Value = record.RecordTypeTXT, strings.Join(v.Txt, "")
	default:
		return record.Remote{}, false
	}
	return r, true
}

// relativeName returns name without the zone suffix, or "@" for the apex.
func relativeName(name, zone string) string {
	name = strings.ToLower(dns.Fqdn(name))
	zone = strings.ToLower(dns.Fqdn(zone))
	if name == zone {
		return record.Apex
	}
	return strings.TrimSuffix(strings.TrimSuffix(name, zone), ".")
}

// specToRR builds the RR for spec with the given value.
func (p *Provider) specToRR(spec record.Spec, value string, ttl int64) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:   dns.Fqdn(spec.FQDN()),
		Rrtype: rrType(spec.Type()),
		Class:  dns.ClassINET,
		Ttl:    uint32(p.effectiveTTL(ttl)),
	}
	switch spec.Type() {
	case record.RecordTypeA:
		ip := net.ParseIP(value).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv4 address %q for A record", value)
		}
		return &dns.A{Hdr: hdr, A: ip}, nil
	case record.RecordTypeAAAA:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("invalid IPv6 address %q for AAAA record", value)
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, nil
	case record.RecordTypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(value)}, nil
	case record.RecordTypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{value}}, nil
	default:
		return nil, fmt.Errorf("unsupported record type %q", spec.Type())
	}
}

// effectiveTTL returns the TTL to use, enforcing MinTTL when configured.
func (p *Provider) effectiveTTL(ttl int64) int64 {
	if p.cfg.MinTTL > 0 && ttl < p.cfg.MinTTL {
		return p.cfg.MinTTL
	}
	return ttl
}

// rrType maps a record type string to a miekg/dns type constant.
func rrType(rt string) uint16 {
	switch rt {
	case record.RecordTypeA:
		return dns.TypeA
	case record.RecordTypeAAAA:
		return dns.TypeAAAA
	case record.RecordTypeCNAME:
		return dns.TypeCNAME
	case record.RecordTypeTXT:
		return dns.TypeTXT
	default:
		return dns.TypeNone
	}
}

// normaliseTSIGAlg ensures the algorithm name has a trailing dot as required
// by miekg/dns. Accepts both "hmac-sha256" and "hmac-sha256.".
func normaliseTSIGAlg(alg string) string {
	if alg == "" {
		return dns.HmacSHA256
	}
	if !strings.HasSuffix(alg, ".") {
		alg += "."
	}
	return strings.ToLower(alg)
}
