// Package config loads and validates the dynamic-dnspod configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// Provider names accepted in the provider field.
const (
	ProviderDNSPod  = "dnspod"
	ProviderRFC2136 = "rfc2136"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultRecordListURL   = "https://dnsapi.cn/Record.List"
	DefaultRecordCreateURL = "https://dnsapi.cn/Record.Create"
	DefaultRecordDDNSURL   = "https://dnsapi.cn/Record.Ddns"
	DefaultSleepMinutes    = 5
	DefaultProbeAddress    = "ns1.dnspod.net:6666"
	DefaultProbeTimeout    = 30
	DefaultAPITimeout      = 30
	DefaultAPIRetries      = 2
	DefaultUserAgent       = "dynamic-dnspod/1.0"
	DefaultRFC2136Port     = 53
	DefaultRFC2136TSIGAlg  = "hmac-sha256"
	DefaultRFC2136MinTTL   = 300
	DefaultRFC2136Timeout  = 10
)

// Config is the whole configuration file. It is read once at startup and
// treated as immutable afterwards.
type Config struct {
	Token    string        `yaml:"token" json:"token"`
	Addr     Addr          `yaml:"addr" json:"addr"`
	System   System        `yaml:"system" json:"system"`
	Domains  []record.Spec `yaml:"domains" json:"domains"`
	Provider string        `yaml:"provider,omitempty" json:"provider,omitempty"`
	Probe    Probe         `yaml:"probe,omitempty" json:"probe,omitempty"`
	API      API           `yaml:"api,omitempty" json:"api,omitempty"`
	RFC2136  RFC2136       `yaml:"rfc2136,omitempty" json:"rfc2136,omitempty"`
}

// Addr holds the DNSPod endpoint URLs.
type Addr struct {
	RecordList   string `yaml:"record_list" json:"record_list"`
	RecordCreate string `yaml:"record_create" json:"record_create"`
	RecordDDNS   string `yaml:"record_ddns" json:"record_ddns"`
}

// System holds scheduler settings.
type System struct {
	SleepMinutes int `yaml:"sleep_minutes" json:"sleep_minutes"`
}

// Probe configures the TCP IP-echo probe.
type Probe struct {
	Address        string `yaml:"address,omitempty" json:"address,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// API tunes the DNSPod HTTP client.
type API struct {
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	// Retries is the number of retries after the first attempt. Negative disables retries.
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`
	// RateLimit is requests per second; 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	UserAgent string  `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// RFC2136 configures the dynamic DNS UPDATE backend.
type RFC2136 struct {
	Host           string `yaml:"host,omitempty" json:"host,omitempty"`
	Port           int    `yaml:"port,omitempty" json:"port,omitempty"`
	TSIGKey        string `yaml:"tsig_key,omitempty" json:"tsig_key,omitempty"`
	TSIGSecret     string `yaml:"tsig_secret,omitempty" json:"tsig_secret,omitempty"`
	TSIGAlg        string `yaml:"tsig_alg,omitempty" json:"tsig_alg,omitempty"`
	MinTTL         uint32 `yaml:"min_ttl,omitempty" json:"min_ttl,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads the configuration file at path. Files ending in ".json" are
// decoded as JSON, anything else as YAML. Defaults are applied and the result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes, expands ${ENV_VAR} references in
// secrets, applies defaults and validates the result.
func Parse(data []byte, isJSON bool) (*Config, error) {
	var cfg Config
	if isJSON {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Token = os.ExpandEnv(cfg.Token)
	cfg.RFC2136.TSIGSecret = os.ExpandEnv(cfg.RFC2136.TSIGSecret)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderDNSPod
	}
	c.Provider = strings.ToLower(c.Provider)

	if c.Addr.RecordList == "" {
		c.Addr.RecordList = DefaultRecordListURL
	}
	if c.Addr.RecordCreate == "" {
		c.Addr.RecordCreate = DefaultRecordCreateURL
	}
	if c.Addr.RecordDDNS == "" {
		c.Addr.RecordDDNS = DefaultRecordDDNSURL
	}
	if c.System.SleepMinutes == 0 {
		c.System.SleepMinutes = DefaultSleepMinutes
	}

	if c.Probe.Address == "" {
		c.Probe.Address = DefaultProbeAddress
	}
	if c.Probe.TimeoutSeconds == 0 {
		c.Probe.TimeoutSeconds = DefaultProbeTimeout
	}

	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = DefaultAPITimeout
	}
	if c.API.Retries == 0 {
		c.API.Retries = DefaultAPIRetries
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = DefaultUserAgent
	}

	if c.RFC2136.Port == 0 {
		c.RFC2136.Port = DefaultRFC2136Port
	}
	if c.RFC2136.TSIGAlg == "" {
		c.RFC2136.TSIGAlg = DefaultRFC2136TSIGAlg
	}
	if c.RFC2136.MinTTL == 0 {
		c.RFC2136.MinTTL = DefaultRFC2136MinTTL
	}
	if c.RFC2136.TimeoutSeconds == 0 {
		c.RFC2136.TimeoutSeconds = DefaultRFC2136Timeout
	}

	for i := range c.Domains {
		c.Domains[i] = c.Domains[i].WithDefaults()
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderDNSPod:
		if c.Token == "" {
			errs = append(errs, errors.New("missing required field 'token'"))
		}
	case ProviderRFC2136:
		if c.RFC2136.Host == "" {
			errs = append(errs, errors.New("missing required field 'rfc2136.host'"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want %q or %q)", c.Provider, ProviderDNSPod, ProviderRFC2136))
	}

	if c.System.SleepMinutes < 0 {
		errs = append(errs, fmt.Errorf("system.sleep_minutes must be positive, got %d", c.System.SleepMinutes))
	}
	if c.Probe.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("probe.timeout_seconds must be positive, got %d", c.Probe.TimeoutSeconds))
	}
	if c.API.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("api.timeout_seconds must be positive, got %d", c.API.TimeoutSeconds))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must not be negative, got %v", c.API.RateLimit))
	}

	if len(c.Domains) == 0 {
		errs = append(errs, errors.New("domains: at least one record is required"))
	}
	for i, d := range c.Domains {
		if d.Domain == "" {
			errs = append(errs, fmt.Errorf("domains[%d]: missing required field 'domain'", i))
		}
		if d.SubDomain == "" {
			errs = append(errs, fmt.Errorf("domains[%d]: missing required field 'sub_domain'", i))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Interval returns the scheduler sleep between cycles.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.System.SleepMinutes) * time.Minute
}

// ProbeTimeout returns the probe connect+read bound.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// APITimeout returns the per-attempt HTTP timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RFC2136Timeout returns the DNS UPDATE and AXFR timeout.
func (c *Config) RFC2136Timeout() time.Duration {
	return time.Duration(c.RFC2136.TimeoutSeconds) * time.Second
}
