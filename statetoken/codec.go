// Package statetoken issues and verifies the signed, single-use state
// parameter that binds an OAuth callback to its originating authorize
// request.
package statetoken

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
)

const (
	// nonceBytes is the entropy of the anti-replay nonce.
	nonceBytes = 32

	// expirySkewGrace tolerates small clock skew between the issuing and
	// verifying process on the expiry check.
	expirySkewGrace = 5 * time.Second

	// maxReturnContextLen bounds caller-supplied return context size so the
	// encoded token stays well under URL length limits.
	maxReturnContextLen = 512
)

// Codec creates and validates state tokens. Tokens are self-contained:
// an HMAC-SHA256 signed JSON payload, base64url encoded as
// "payload.signature". Single use is enforced through the nonce
// repository, not by storing the token itself.
type Codec struct {
	signingKey []byte
	ttl        time.Duration
	nonces     domain.NonceRepository

	now func() time.Time // injectable for tests
}

// NewCodec creates a Codec. ttl is the state validity window and should be
// minutes, not hours.
func NewCodec(signingKey []byte, ttl time.Duration, nonces domain.NonceRepository) *Codec {
	key := make([]byte, len(signingKey))
	copy(key, signingKey)
	return &Codec{
		signingKey: key,
		ttl:        ttl,
		nonces:     nonces,
		now:        time.Now,
	}
}

// Issue creates a fresh opaque state token for the given provider carrying
// the caller's return context.
func (c *Codec) Issue(provider, returnContext string) (string, error) {
	if len(returnContext) > maxReturnContextLen {
		return "", errors.ErrInvalidReturnTarget
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	now := c.now().UTC()
	claims := domain.StateClaims{
		Provider:      provider,
		Nonce:         base64.RawURLEncoding.EncodeToString(buf),
		IssuedAt:      now,
		ExpiresAt:     now.Add(c.ttl),
		ReturnContext: returnContext,
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// VerifyAndConsume validates an opaque state token and marks its nonce
// consumed. Every failure mode collapses into ErrInvalidState so callers
// cannot probe which check rejected the token. A nonce store outage also
// fails closed.
func (c *Codec) VerifyAndConsume(ctx context.Context, token string) (*domain.StateClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errors.ErrInvalidState
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(sig)) {
		return nil, errors.ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.ErrInvalidState
	}
	var claims domain.StateClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.ErrInvalidState
	}
	if claims.Nonce == "" || claims.Provider == "" {
		return nil, errors.ErrInvalidState
	}

	if c.now().UTC().After(claims.ExpiresAt.Add(expirySkewGrace)) {
		return nil, errors.ErrInvalidState
	}

	// Guard nonces for the full token lifetime plus grace so a replay
	// cannot slip in after the guard entry expires but before the token
	// itself does.
	first, err := c.nonces.Consume(ctx, claims.Nonce, c.ttl+expirySkewGrace)
	if err != nil || !first {
		return nil, errors.ErrInvalidState
	}

	return &claims, nil
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
