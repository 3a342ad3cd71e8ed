// Package auth acquires and caches the short-lived database credentials used
// in place of a static password. Tokens are memory-only and renewed with a
// safety margin ahead of their expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/streetlens/batchtrack/pkg/common/logger"
)

// DefaultRenewalMargin is subtracted from a token's expiry when deciding
// whether it is still usable.
const DefaultRenewalMargin = 5 * time.Minute

// ErrTokenRenewal indicates the identity backend could not issue a fresh
// token. Fatal for any operation that needed a fresh session.
var ErrTokenRenewal = errors.New("token renewal failed")

// Credential is an ephemeral bearer token with an absolute expiry. It is never
// persisted.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// TokenSource issues credentials from an identity backend.
type TokenSource interface {
	Token(ctx context.Context) (Credential, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (Credential, error)

func (f TokenSourceFunc) Token(ctx context.Context) (Credential, error) { return f(ctx) }

// Provider caches the most recent credential and renews it synchronously when
// it falls inside the renewal margin. Concurrent callers observing an invalid
// token collapse onto a single in-flight renewal.
type Provider struct {
	source TokenSource
	margin time.Duration
	logger *logger.Logger

	group singleflight.Group

	mu   sync.RWMutex
	cred Credential
}

// NewProvider creates a Provider around the given token source. A
// non-positive margin falls back to DefaultRenewalMargin.
func NewProvider(source TokenSource, margin time.Duration, logger *logger.Logger) *Provider {
	if margin <= 0 {
		margin = DefaultRenewalMargin
	}
	return &Provider{
		source: source,
		margin: margin,
		logger: logger.With("component", "credential_provider"),
	}
}

// Valid reports whether the cached credential is still usable at the given
// instant, leaving the renewal margin before the real expiry.
func (p *Provider) Valid(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cred.Token != "" && now.Before(p.cred.ExpiresAt.Add(-p.margin))
}

// Token returns a valid credential, renewing first if the cached one is
// missing or inside the renewal margin. Renewal failures wrap ErrTokenRenewal.
func (p *Provider) Token(ctx context.Context) (Credential, error) {
	if p.Valid(time.Now()) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.cred, nil
	}

	// Collapse concurrent renewals into one request against the backend.
	v, err, _ := p.group.Do("renew", func() (any, error) {
		if p.Valid(time.Now()) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			return p.cred, nil
		}

		cred, err := p.source.Token(ctx)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrTokenRenewal, err)
		}
		if cred.Token == "" {
			return Credential{}, fmt.Errorf("%w: backend returned empty token", ErrTokenRenewal)
		}

		p.mu.Lock()
		p.cred = cred
		p.mu.Unlock()

		p.logger.Info(ctx, "Database token renewed", "expires_at", cred.ExpiresAt.UTC().Format(time.RFC3339))
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}

	return v.(Credential), nil
}
