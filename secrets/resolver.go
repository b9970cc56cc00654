// Package secrets resolves provider client credentials from an external
// secret store, with a short-TTL process-local cache in front of it.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
	"go.pilab.hu/oauth-broker/log"
)

const (
	maxFetchTries        = 3
	initialFetchInterval = 100 * time.Millisecond
)

// Resolver caches resolved credentials per credentialRef. Concurrent
// cache misses for the same ref coalesce into one upstream fetch, so a
// burst of callbacks cannot stampede the secret backend.
type Resolver struct {
	store  domain.SecretStore
	cache  *ttlcache.Cache[string, *domain.ClientCredentials]
	flight singleflight.Group
	ttl    time.Duration
	logger log.Logger
}

// NewResolver creates a Resolver with the given cache TTL.
func NewResolver(store domain.SecretStore, ttl time.Duration, logger log.Logger) *Resolver {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.ClientCredentials](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.ClientCredentials](),
	)
	go cache.Start()

	return &Resolver{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Resolve returns the credentials for credentialRef, from cache when the
// entry is still live. Secret store failures surface as
// ErrSecretUnavailable after a bounded number of retries with backoff.
func (r *Resolver) Resolve(ctx context.Context, credentialRef string) (*domain.ClientCredentials, error) {
	if item := r.cache.Get(credentialRef); item != nil {
		return item.Value(), nil
	}

	v, err, _ := r.flight.Do(credentialRef, func() (any, error) {
		// Re-check under the flight: a concurrent winner may have already
		// populated the cache while this caller was queued.
		if item := r.cache.Get(credentialRef); item != nil {
			return item.Value(), nil
		}

		creds, err := r.fetch(ctx, credentialRef)
		if err != nil {
			return nil, err
		}
		r.cache.Set(credentialRef, creds, r.ttl)
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ClientCredentials), nil
}

func (r *Resolver) fetch(ctx context.Context, credentialRef string) (*domain.ClientCredentials, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = initialFetchInterval

	payload, err := backoff.Retry(ctx, func() ([]byte, error) {
		return r.store.GetSecret(ctx, credentialRef)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(maxFetchTries))
	if err != nil {
		r.logger.Error(ctx, "secret fetch failed", err, map[string]any{
			"credential_ref": credentialRef,
		})
		return nil, fmt.Errorf("%w: %s", errors.ErrSecretUnavailable, credentialRef)
	}

	var creds domain.ClientCredentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("%w: malformed secret payload for %s", errors.ErrSecretUnavailable, credentialRef)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: incomplete credentials for %s", errors.ErrSecretUnavailable, credentialRef)
	}
	return &creds, nil
}

// Close stops the cache cleanup goroutine.
func (r *Resolver) Close() {
	r.cache.Stop()
}
