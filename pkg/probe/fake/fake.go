// Package fake provides an in-memory Prober implementation for testing.
package fake

import (
	"context"
	"sync"
)

// Result is one scripted answer from the fake prober.
type Result struct {
	IP  string
	Err error
}

// Prober is a fake implementation of probe.Prober. It returns scripted
// results in order, then repeats the last one.
type Prober struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

// New returns a fake Prober that always reports ip.
func New(ip string) *Prober {
	return &Prober{results: []Result{{IP: ip}}}
}

// NewSequence returns a fake Prober that answers with results in order.
func NewSequence(results ...Result) *Prober {
	return &Prober{results: results}
}

// CurrentIP returns the next scripted result.
func (p *Prober) CurrentIP(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		p.calls++
		return "", nil
	}
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	r := p.results[i]
	return r.IP, r.Err
}

// SetIP replaces the scripted results with a single successful answer.
func (p *Prober) SetIP(ip string) {
	p.SetResults(Result{IP: ip})
}

// SetError replaces the scripted results with a single failure.
func (p *Prober) SetError(err error) {
	p.SetResults(Result{Err: err})
}

// SetResults replaces the scripted results and restarts the sequence.
func (p *Prober) SetResults(results ...Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
	p.calls = 0
}

// Calls returns how many times CurrentIP has been called since the last reset.
func (p *Prober) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
