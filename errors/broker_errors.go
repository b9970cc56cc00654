package errors

import "errors"

// Broker error taxonomy. Handlers map these onto HTTP statuses; services
// wrap them with fmt.Errorf("...: %w", err) so errors.Is keeps working.
var (
	// ErrUnknownProvider is returned for provider names absent from the
	// registry. Client input error, 404-class.
	ErrUnknownProvider = errors.New("unknown oauth provider")

	// ErrInvalidState covers every state verification failure: bad
	// signature, expired, malformed, already consumed. The reasons are
	// deliberately not distinguished to the caller.
	ErrInvalidState = errors.New("invalid state parameter")

	// ErrExchangeFailed means the provider rejected or failed the
	// authorization-code exchange. Never retried: codes are single use.
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshFailed means the provider refresh call failed for a reason
	// other than the refresh token itself being invalid.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshTokenInvalid means the provider explicitly rejected the
	// refresh token (invalid_grant). The stored record is dead.
	ErrRefreshTokenInvalid = errors.New("refresh token rejected by provider")

	// ErrUserInfoFailed means the provider userinfo call failed.
	ErrUserInfoFailed = errors.New("userinfo request failed")

	// ErrSecretUnavailable means the secret store could not be reached
	// within the bounded retries. Infra failure, 503-class.
	ErrSecretUnavailable = errors.New("provider credentials unavailable")

	// ErrInvalidReturnTarget means the caller-supplied return context is
	// not on the configured allow-list. Client input error, 400-class.
	ErrInvalidReturnTarget = errors.New("return target not allowed")

	// ErrReauthRequired means no usable token exists for the subject and
	// the caller must redo the authorize/callback flow. Expected
	// steady-state condition, not an incident.
	ErrReauthRequired = errors.New("reauthorization required")

	// ErrTokenNotFound is returned by the token repository on a miss.
	ErrTokenNotFound = errors.New("token record not found")

	// ErrRecordExists is returned by a create-only Put when a record for
	// the (subject, provider) pair already exists.
	ErrRecordExists = errors.New("token record already exists")

	// ErrVersionConflict is returned by a conditional Put whose expected
	// version no longer matches. Resolved internally by re-read, never
	// surfaced to callers.
	ErrVersionConflict = errors.New("token record version conflict")
)
