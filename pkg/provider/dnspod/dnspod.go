// Package dnspod implements the Provider interface against the DNSPod
// (dnsapi.cn) HTTP API.
package dnspod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// API action names, used in logs and errors.
const (
	opList   = "Record.List"
	opCreate = "Record.Create"
	opDDNS   = "Record.Ddns"
)

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

// Config holds the settings for the DNSPod provider.
type Config struct {
	// Token is the "id,token" login token.
	Token string

	RecordListURL   string
	RecordCreateURL string
	RecordDDNSURL   string

	// Timeout bounds each HTTP attempt. Zero means no timeout.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt on transport
	// errors and 5xx responses.
	Retries int
	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	// Zero values keep the retryablehttp defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64
	UserAgent string
}

// Provider is a DNSPod-backed implementation of provider.Provider.
type Provider struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates a new DNSPod provider.
func New(cfg Config, log *slog.Logger) *Provider {
	c := retryablehttp.NewClient()
	c.Logger = log
	c.RetryMax = max(cfg.Retries, 0)
	if cfg.RetryWaitMin > 0 {
		c.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		c.RetryWaitMax = cfg.RetryWaitMax
	}
	c.HTTPClient.Timeout = cfg.Timeout
	// Return the final response as-is so its body can be logged.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Provider{cfg: cfg, client: c, limiter: limiter, log: log}
}

// ListRecords calls Record.List filtered by sub-domain. A "no records"
// status is an empty result, not an error.
func (p *Provider) ListRecords(ctx context.Context, domain, subDomain string) ([]record.Remote, error) {
	form := listForm{
		LoginToken: p.cfg.Token,
		Format:     "json",
		Domain:     domain,
		SubDomain:  subDomain,
	}

	var resp listResponse
	code, err := p.call(ctx, opList, p.cfg.RecordListURL, form, &resp, codeNoRecords)
	if err != nil {
		return nil, err
	}
	if code == codeNoRecords {
		return []record.Remote{}, nil
	}

	out := make([]record.Remote, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, record.Remote{
			ID:    string(r.ID),
			Name:  r.Name,
			Value: r.Value,
			Type:  r.Type,
		})
	}
	return out, nil
}

// CreateRecord calls Record.Create and returns the new record id.
func (p *Provider) CreateRecord(ctx context.Context, spec record.Spec, value string) (string, error) {
	spec = spec.WithDefaults()
	form := createForm{
		LoginToken: p.cfg.Token,
		Format:     "json",
		Domain:     spec.Domain,
		SubDomain:  spec.SubDomain,
		RecordType: spec.RecordType,
		RecordLine: spec.RecordLine,
		Value:      value,
	}

	var resp createResponse
	if _, err := p.call(ctx, opCreate, p.cfg.RecordCreateURL, form, &resp); err != nil {
		return "", err
	}
	p.log.Info("record created",
		"domain", spec.Domain, "sub_domain", spec.SubDomain,
		"record_type", spec.RecordType, "value", value, "record_id", string(resp.Record.ID))
	return string(resp.Record.ID), nil
}

// UpdateRecord calls Record.Ddns to point recordID at value.
func (p *Provider) UpdateRecord(ctx context.Context, spec record.Spec, recordID, value string) error {
	spec = spec.WithDefaults()
	form := ddnsForm{
		LoginToken: p.cfg.Token,
		Format:     "json",
		Domain:     spec.Domain,
		SubDomain:  spec.SubDomain,
		RecordID:   recordID,
		RecordLine: spec.RecordLine,
		Value:      value,
	}

	if _, err := p.call(ctx, opDDNS, p.cfg.RecordDDNSURL, form, nil); err != nil {
		return err
	}
	p.log.Info("record updated",
		"domain", spec.Domain, "sub_domain", spec.SubDomain,
		"record_id", recordID, "value", value)
	return nil
}

// call POSTs form to target and validates the response envelope. It returns
// the status code on success. Codes in extraOK are accepted alongside "1";
// out is only decoded for code "1". Every failure is logged with the target
// and raw body and returned as an *APIError.
func (p *Provider) call(ctx context.Context, op, target string, form, out any, extraOK ...string) (string, error) {
	fail := func(e *APIError) (string, error) {
		p.log.Error("dnspod request failed",
			"op", op, "target", target, "http_status", e.StatusCode,
			"code", e.Code, "body", e.Body, "err", e.Err)
		return "", e
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fail(&APIError{Op: op, Target: target, Err: err})
		}
	}

	values, err := query.Values(form)
	if err != nil {
		return fail(&APIError{Op: op, Target: target, Err: fmt.Errorf("encoding form: %w", err)})
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, []byte(values.Encode()))
	if err != nil {
		return fail(&APIError{Op: op, Target: target, Err: fmt.Errorf("building request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return fail(&APIError{Op: op, Target: target, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fail(&APIError{Op: op, Target: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)})
	}
	body := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(&APIError{Op: op, Target: target, StatusCode: resp.StatusCode, Body: body})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fail(&APIError{Op: op, Target: target, StatusCode: resp.StatusCode, Body: body, Err: fmt.Errorf("decoding body: %w", err)})
	}
	if env.Status == nil {
		return fail(&APIError{Op: op, Target: target, StatusCode: resp.StatusCode, Body: body, Err: errors.New("response has no status")})
	}

	code := strings.TrimSpace(string(env.Status.Code))
	if code != codeOK {
		for _, ok := range extraOK {
			if code == ok {
				return code, nil
			}
		}
		return fail(&APIError{
			Op: op, Target: target, StatusCode: resp.StatusCode,
			Code: code, Message: env.Status.Message, Body: body,
		})
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fail(&APIError{Op: op, Target: target, StatusCode: resp.StatusCode, Body: body, Err: fmt.Errorf("decoding body: %w", err)})
		}
	}
	return code, nil
}
