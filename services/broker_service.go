// Package services contains the flow orchestrator driving the
// authorize -> callback -> refresh -> userinfo lifecycle against any
// registered provider.
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
	"go.pilab.hu/oauth-broker/internal/crypto"
	"go.pilab.hu/oauth-broker/log"
)

// expirySafetyMargin treats an access token expiring within this window as
// already expired, so callers never receive a token that dies mid-use.
const expirySafetyMargin = 30 * time.Second

// defaultExpiresIn applies when a provider omits expires_in entirely.
const defaultExpiresIn = 3600

// completionTimeout bounds the work that must outlive a cancelled caller:
// once a single-use code or a rotating refresh token is in flight at the
// provider, the call and the store write run to completion on their own
// deadline.
const completionTimeout = 30 * time.Second

// ProviderClient performs the outbound provider calls.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, desc *domain.ProviderDescriptor, creds *domain.ClientCredentials, code, redirectURI string) (*domain.RawTokenResponse, error)
	Refresh(ctx context.Context, desc *domain.ProviderDescriptor, creds *domain.ClientCredentials, refreshToken string) (*domain.RawTokenResponse, error)
	FetchUserInfo(ctx context.Context, desc *domain.ProviderDescriptor, accessToken string) (*domain.UserInfo, error)
}

// CredentialResolver resolves provider client credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialRef string) (*domain.ClientCredentials, error)
}

// StateCodec issues and consumes single-use state tokens.
type StateCodec interface {
	Issue(provider, returnContext string) (string, error)
	VerifyAndConsume(ctx context.Context, token string) (*domain.StateClaims, error)
}

// ProviderRegistry looks up provider descriptors.
type ProviderRegistry interface {
	Describe(name string) (*domain.ProviderDescriptor, error)
	Names() []string
}

// BrokerService orchestrates OAuth flows. All cross-process coordination
// happens through the token repository's conditional writes; the only
// in-process synchronization is a singleflight that collapses concurrent
// refreshes for the same (subject, provider) within one instance.
type BrokerService struct {
	registry  ProviderRegistry
	codec     StateCodec
	secrets   CredentialResolver
	providers ProviderClient
	records   domain.TokenRecordRepository
	cipher    *crypto.TokenCipher
	logger    log.Logger

	callbackBaseURL       string
	allowedReturnPrefixes []string

	refreshFlight singleflight.Group
	now           func() time.Time // injectable for tests
}

// NewBrokerService wires the orchestrator.
func NewBrokerService(
	reg ProviderRegistry,
	codec StateCodec,
	secrets CredentialResolver,
	providers ProviderClient,
	records domain.TokenRecordRepository,
	cipher *crypto.TokenCipher,
	callbackBaseURL string,
	allowedReturnPrefixes []string,
	logger log.Logger,
) *BrokerService {
	return &BrokerService{
		registry:              reg,
		codec:                 codec,
		secrets:               secrets,
		providers:             providers,
		records:               records,
		cipher:                cipher,
		logger:                logger,
		callbackBaseURL:       strings.TrimSuffix(callbackBaseURL, "/"),
		allowedReturnPrefixes: allowedReturnPrefixes,
		now:                   time.Now,
	}
}

// CallbackResult is what Callback hands back to the transport layer.
type CallbackResult struct {
	Provider      string
	ReturnContext string
	Record        *domain.TokenRecord
}

// Providers lists the registered provider names.
func (s *BrokerService) Providers() []string {
	return s.registry.Names()
}

// Authorize starts a flow: validates the provider and return target,
// issues a single-use state token, and returns the provider authorize URL
// to redirect the user to.
func (s *BrokerService) Authorize(ctx context.Context, provider, returnContext string) (string, error) {
	desc, err := s.registry.Describe(provider)
	if err != nil {
		return "", err
	}

	if err := s.checkReturnTarget(returnContext); err != nil {
		return "", err
	}

	creds, err := s.secrets.Resolve(ctx, desc.CredentialRef)
	if err != nil {
		return "", err
	}

	state, err := s.codec.Issue(provider, returnContext)
	if err != nil {
		return "", fmt.Errorf("failed to issue state token: %w", err)
	}

	conf := oauth2.Config{
		ClientID:    creds.ClientID,
		RedirectURL: s.redirectURI(provider),
		Scopes:      desc.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: desc.AuthorizeURL},
	}
	opts := make([]oauth2.AuthCodeOption, 0, len(desc.AuthorizeParams))
	for k, v := range desc.AuthorizeParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	s.logger.Info(ctx, "authorize flow initiated", map[string]any{
		"provider": provider,
	})
	return conf.AuthCodeURL(state, opts...), nil
}

// Callback completes a flow: consumes the state token, exchanges the code,
// and creates the token record. A racing duplicate callback that loses the
// create is treated as idempotent success.
func (s *BrokerService) Callback(ctx context.Context, subjectKey, provider, code, state string) (*CallbackResult, error) {
	claims, err := s.codec.VerifyAndConsume(ctx, state)
	if err != nil {
		return nil, err
	}
	// The state binds the callback to the provider it was issued for.
	if claims.Provider != provider {
		return nil, errors.ErrInvalidState
	}
	// The allow-list may have changed since the state was issued; a target
	// that is no longer allowed falls back to the default landing page.
	returnContext := claims.ReturnContext
	if err := s.checkReturnTarget(returnContext); err != nil {
		s.logger.Warn(ctx, "dropping disallowed return target from callback", map[string]any{
			"provider": provider,
		})
		returnContext = ""
	}

	desc, err := s.registry.Describe(provider)
	if err != nil {
		return nil, err
	}
	creds, err := s.secrets.Resolve(ctx, desc.CredentialRef)
	if err != nil {
		return nil, err
	}

	// The code is consumed at the provider the moment the exchange runs.
	// A caller disconnecting mid-flight must not abort it, or the grant
	// would be lost with no recorded outcome; the exchange and the store
	// write run detached from the caller's cancellation, bounded only by
	// their own deadline.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	raw, err := s.providers.ExchangeCode(opCtx, desc, creds, code, s.redirectURI(provider))
	if err != nil {
		s.logger.Warn(ctx, "code exchange failed", map[string]any{
			"provider": provider,
		})
		return nil, err
	}

	record, err := s.buildRecord(subjectKey, provider, raw, nil)
	if err != nil {
		return nil, err
	}

	if err := s.records.Put(opCtx, record, nil); err != nil {
		if !stderrors.Is(err, errors.ErrRecordExists) {
			return nil, err
		}
		// A record already exists, either from an earlier grant or from a
		// racing duplicate callback. The fresh exchange must win so that
		// redoing authorize after a ReauthRequired actually recovers;
		// replace the stored record at its current version.
		existing, getErr := s.records.Get(opCtx, subjectKey, provider)
		if getErr != nil {
			return nil, getErr
		}
		replacement, buildErr := s.buildRecord(subjectKey, provider, raw, existing)
		if buildErr != nil {
			return nil, buildErr
		}
		switch putErr := s.records.Put(opCtx, replacement, &existing.Version); {
		case putErr == nil:
			record = replacement
		case stderrors.Is(putErr, errors.ErrVersionConflict):
			// A racing callback updated first; adopt its record so both
			// callers of the same code observe one outcome.
			adopted, adoptErr := s.records.Get(opCtx, subjectKey, provider)
			if adoptErr != nil {
				return nil, adoptErr
			}
			record = adopted
		default:
			return nil, putErr
		}
	}

	s.logger.Info(ctx, "callback exchange completed", map[string]any{
		"provider":    provider,
		"subject_key": subjectKey,
	})
	return &CallbackResult{
		Provider:      provider,
		ReturnContext: returnContext,
		Record:        record,
	}, nil
}

// GetValidAccessToken returns a live plaintext access token for the
// subject, refreshing through the provider when the stored one has
// expired. Concurrent refreshes for one (subject, provider) collapse into
// a single winner; cross-process losers detect the version conflict and
// adopt the winner's token.
func (s *BrokerService) GetValidAccessToken(ctx context.Context, subjectKey, provider string) (string, *domain.TokenRecord, error) {
	if _, err := s.registry.Describe(provider); err != nil {
		return "", nil, err
	}

	record, err := s.records.Get(ctx, subjectKey, provider)
	if err != nil {
		if stderrors.Is(err, errors.ErrTokenNotFound) {
			return "", nil, errors.ErrReauthRequired
		}
		return "", nil, err
	}

	if s.fresh(record) {
		token, err := s.cipher.Open(record.AccessToken)
		if err != nil {
			return "", nil, err
		}
		return token, record, nil
	}

	if !record.HasRefreshToken() {
		return "", nil, errors.ErrReauthRequired
	}

	type refreshResult struct {
		token  string
		record *domain.TokenRecord
	}
	v, err, _ := s.refreshFlight.Do(subjectKey+"|"+provider, func() (any, error) {
		token, rec, err := s.refresh(ctx, subjectKey, provider, record)
		if err != nil {
			return nil, err
		}
		return &refreshResult{token: token, record: rec}, nil
	})
	if err != nil {
		return "", nil, err
	}
	res := v.(*refreshResult)
	return res.token, res.record, nil
}

// refresh performs one refresh attempt under optimistic concurrency.
func (s *BrokerService) refresh(ctx context.Context, subjectKey, provider string, record *domain.TokenRecord) (string, *domain.TokenRecord, error) {
	desc, err := s.registry.Describe(provider)
	if err != nil {
		return "", nil, err
	}
	creds, err := s.secrets.Resolve(ctx, desc.CredentialRef)
	if err != nil {
		return "", nil, err
	}

	refreshToken, err := s.cipher.Open(record.RefreshToken)
	if err != nil {
		return "", nil, err
	}

	// A refresh may rotate the upstream refresh token; aborting it on
	// caller cancellation would orphan the rotated token with nothing
	// stored. The provider call and the store write outlive the caller,
	// bounded by their own deadline.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	raw, err := s.providers.Refresh(opCtx, desc, creds, refreshToken)
	if err != nil {
		if stderrors.Is(err, errors.ErrRefreshTokenInvalid) {
			// The provider declared the refresh token dead; the record is
			// useless and the subject must reauthorize.
			if delErr := s.records.Delete(opCtx, subjectKey, provider); delErr != nil {
				s.logger.Error(ctx, "failed to delete revoked token record", delErr, map[string]any{
					"provider": provider, "subject_key": subjectKey,
				})
			}
			return "", nil, errors.ErrReauthRequired
		}
		return "", nil, err
	}

	updated, err := s.buildRecord(subjectKey, provider, raw, record)
	if err != nil {
		return "", nil, err
	}

	err = s.records.Put(opCtx, updated, &record.Version)
	switch {
	case err == nil:
		s.logger.Info(ctx, "access token refreshed", map[string]any{
			"provider": provider, "subject_key": subjectKey,
		})
		token, openErr := s.cipher.Open(updated.AccessToken)
		if openErr != nil {
			return "", nil, openErr
		}
		return token, updated, nil

	case stderrors.Is(err, errors.ErrVersionConflict):
		// A concurrent refresh won the write. Adopt its result rather
		// than pushing our own, which would invalidate the winner's
		// rotated refresh token at the provider.
		current, getErr := s.records.Get(opCtx, subjectKey, provider)
		if getErr != nil {
			return "", nil, getErr
		}
		if !s.fresh(current) {
			return "", nil, fmt.Errorf("%w: concurrent refresh produced no usable token", errors.ErrRefreshFailed)
		}
		token, openErr := s.cipher.Open(current.AccessToken)
		if openErr != nil {
			return "", nil, openErr
		}
		return token, current, nil

	case stderrors.Is(err, errors.ErrTokenNotFound):
		// Record was revoked while we were refreshing.
		return "", nil, errors.ErrReauthRequired

	default:
		return "", nil, err
	}
}

// UserInfo fetches the provider profile using a valid access token.
func (s *BrokerService) UserInfo(ctx context.Context, subjectKey, provider string) (*domain.UserInfo, error) {
	token, _, err := s.GetValidAccessToken(ctx, subjectKey, provider)
	if err != nil {
		return nil, err
	}
	desc, err := s.registry.Describe(provider)
	if err != nil {
		return nil, err
	}
	return s.providers.FetchUserInfo(ctx, desc, token)
}

// Revoke deletes the stored token record for the subject.
func (s *BrokerService) Revoke(ctx context.Context, subjectKey, provider string) error {
	if _, err := s.registry.Describe(provider); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, subjectKey, provider); err != nil {
		return err
	}
	s.logger.Info(ctx, "token record revoked", map[string]any{
		"provider": provider, "subject_key": subjectKey,
	})
	return nil
}

// fresh reports whether the record's access token is still usable,
// applying the safety margin.
func (s *BrokerService) fresh(record *domain.TokenRecord) bool {
	return record.AccessExpiresAt.After(s.now().Add(expirySafetyMargin))
}

// buildRecord seals a raw token response into a TokenRecord. On refresh,
// prev supplies the refresh token to keep when the provider did not rotate
// it, and the scope to keep when the provider omitted it.
func (s *BrokerService) buildRecord(subjectKey, provider string, raw *domain.RawTokenResponse, prev *domain.TokenRecord) (*domain.TokenRecord, error) {
	accessCiphertext, err := s.cipher.Seal(raw.AccessToken)
	if err != nil {
		return nil, err
	}

	refreshCiphertext := []byte(nil)
	if raw.RefreshToken != "" {
		refreshCiphertext, err = s.cipher.Seal(raw.RefreshToken)
		if err != nil {
			return nil, err
		}
	} else if prev != nil {
		refreshCiphertext = prev.RefreshToken
	}

	expiresIn := raw.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	scope := raw.Scope
	if scope == "" && prev != nil {
		scope = prev.Scope
	}

	record := &domain.TokenRecord{
		SubjectKey:      subjectKey,
		Provider:        provider,
		AccessToken:     accessCiphertext,
		RefreshToken:    refreshCiphertext,
		AccessExpiresAt: s.now().UTC().Add(time.Duration(expiresIn) * time.Second),
		Scope:           scope,
	}
	if prev != nil {
		record.Version = prev.Version
	}
	return record, nil
}

// checkReturnTarget enforces the configured allow-list. Only site-local
// path targets are accepted; absolute and protocol-relative URLs are
// rejected outright to close the open-redirect hole.
func (s *BrokerService) checkReturnTarget(returnContext string) error {
	if returnContext == "" {
		return nil
	}
	if !strings.HasPrefix(returnContext, "/") || strings.HasPrefix(returnContext, "//") {
		return errors.ErrInvalidReturnTarget
	}
	for _, prefix := range s.allowedReturnPrefixes {
		if strings.HasPrefix(returnContext, prefix) {
			return nil
		}
	}
	return errors.ErrInvalidReturnTarget
}

func (s *BrokerService) redirectURI(provider string) string {
	return s.callbackBaseURL + "/api/oauth/callback/" + provider
}
