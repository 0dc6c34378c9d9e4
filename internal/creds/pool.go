// Package creds implements the credential pool of SPEC_FULL.md §4.5: a
// serialized rotation over N ≥ 1 opaque upstream-client identities.
package creds

import (
	"errors"
	"sync"
)

// Credential is one opaque (identity, secret) pair configured for the
// upstream client. The core never interprets identity or secret beyond
// passing secret as a bearer token on outbound calls.
type Credential struct {
	Identity string
	Secret   string
}

// Pool rotates among a configured set of credentials. Every outbound
// upstream call acquires one by rotating the collection one slot and
// taking the head; acquisition is serialized by mu, so the pool is safe
// for concurrent use by many handler goroutines.
type Pool struct {
	mu    sync.Mutex
	creds []Credential
}

// ErrEmptyPool is returned by New and Reload when given zero
// credentials; per §7 this is a configuration error and fatal at
// startup.
var ErrEmptyPool = errors.New("credential pool requires at least one credential")

// New constructs a Pool over creds, which must be non-empty.
func New(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrEmptyPool
	}
	cp := make([]Credential, len(creds))
	copy(cp, creds)
	return &Pool{creds: cp}, nil
}

// Acquire returns the credential at the head of the pool and rotates
// the pool by one slot, moving that credential to the back. With a
// pool of size N, the effective global request budget scales linearly
// with N since each identity carries its own upstream rate limit.
func (p *Pool) Acquire() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.creds[0]
	p.creds = append(p.creds[1:], head)
	return head
}

// Len reports the number of distinct identities in the pool. The CLI
// entrypoint multiplies the configured requests_per_hour by Len to get
// the effective global budget handed to budget.New, since each
// identity carries its own independent upstream rate limit.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Reload atomically swaps in a new credential list, for hot-reload from
// a watched credentials file. It never interleaves with an in-progress
// Acquire: both hold mu.
func (p *Pool) Reload(creds []Credential) error {
	if len(creds) == 0 {
		return ErrEmptyPool
	}
	cp := make([]Credential, len(creds))
	copy(cp, creds)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = cp
	return nil
}
