// Package providerclient performs the outbound HTTP calls of the
// authorization-code flow: code exchange, refresh, and userinfo. Each call
// is a single bounded-timeout request; retry policy lives with the caller
// except for one transport-level retry on refresh and userinfo. Code
// exchange is never retried: authorization codes are single use.
package providerclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
)

const maxResponseBytes = 1 << 20

// httpError is a provider-level failure: the endpoint answered, with a
// non-2xx status. It is never retried, unlike a transport failure.
type httpError struct {
	status int
	body   map[string]any
}

func (e *httpError) Error() string {
	return fmt.Sprintf("provider endpoint returned status %d", e.status)
}

// errorCode extracts the OAuth "error" field from the response body.
func (e *httpError) errorCode() string {
	if code, ok := e.body["error"].(string); ok && code != "" {
		return code
	}
	return "unknown_error"
}

// Client talks to upstream OAuth providers.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a provider client. A nil httpClient gets a default
// with a 10 second timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

// ExchangeCode swaps an authorization code for tokens. Any failure maps to
// ErrExchangeFailed; the call is made exactly once.
func (c *Client) ExchangeCode(ctx context.Context, desc *domain.ProviderDescriptor, creds *domain.ClientCredentials, code, redirectURI string) (*domain.RawTokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("redirect_uri", redirectURI)

	body, err := c.postForm(ctx, desc.TokenURL, form)
	if err != nil {
		var herr *httpError
		if stderrors.As(err, &herr) {
			return nil, fmt.Errorf("%w: %s", errors.ErrExchangeFailed, herr.errorCode())
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrExchangeFailed, err)
	}

	resp, err := desc.ResponseAdapter(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrExchangeFailed, err)
	}
	return resp, nil
}

// Refresh exchanges a refresh token for a new token pair. A pure transport
// failure is retried once; a provider invalid_grant means the refresh
// token itself is dead and maps to ErrRefreshTokenInvalid.
func (c *Client) Refresh(ctx context.Context, desc *domain.ProviderDescriptor, creds *domain.ClientCredentials, refreshToken string) (*domain.RawTokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("refresh_token", refreshToken)

	body, err := c.retryOnTransport(ctx, func() (map[string]any, error) {
		return c.postForm(ctx, desc.TokenURL, form)
	})
	if err != nil {
		var herr *httpError
		if stderrors.As(err, &herr) {
			if herr.errorCode() == "invalid_grant" {
				return nil, errors.ErrRefreshTokenInvalid
			}
			return nil, fmt.Errorf("%w: %s", errors.ErrRefreshFailed, herr.errorCode())
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrRefreshFailed, err)
	}

	resp, err := desc.ResponseAdapter(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrRefreshFailed, err)
	}
	return resp, nil
}

// FetchUserInfo retrieves and normalizes the provider profile. Retried
// once on pure transport failure.
func (c *Client) FetchUserInfo(ctx context.Context, desc *domain.ProviderDescriptor, accessToken string) (*domain.UserInfo, error) {
	if desc.UserInfoURL == "" || desc.UserInfoAdapter == nil {
		return nil, fmt.Errorf("%w: provider %s has no userinfo endpoint", errors.ErrUserInfoFailed, desc.Name)
	}

	body, err := c.retryOnTransport(ctx, func() (map[string]any, error) {
		return c.getJSON(ctx, desc.UserInfoURL, accessToken)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUserInfoFailed, err)
	}

	info, err := desc.UserInfoAdapter(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUserInfoFailed, err)
	}
	return info, nil
}

// retryOnTransport runs call, retrying exactly once when the failure never
// reached the provider (connection error, not an HTTP status). Cancelled
// contexts are not retried.
func (c *Client) retryOnTransport(ctx context.Context, call func() (map[string]any, error)) (map[string]any, error) {
	body, err := call()
	if err == nil {
		return body, nil
	}
	var herr *httpError
	if stderrors.As(err, &herr) || ctx.Err() != nil {
		return nil, err
	}
	return call()
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var body map[string]any
	if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
		body = map[string]any{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{status: resp.StatusCode, body: body}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("token endpoint returned empty or non-JSON body")
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read userinfo response: %w", err)
	}

	var body map[string]any
	if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
		body = map[string]any{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{status: resp.StatusCode, body: body}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("userinfo endpoint returned empty or non-JSON body")
	}
	return body, nil
}
