package domain

import "time"

// TokenRecord is the durable token state for one (subject, provider) pair.
// AccessToken and RefreshToken hold AEAD ciphertext, never plaintext; the
// broker service seals and opens them around repository calls.
//
// Version is a monotonic counter used as an optimistic-concurrency
// precondition: every successful write bumps it, and a conditional write
// whose expected version no longer matches the stored one is rejected.
type TokenRecord struct {
	SubjectKey      string    `bson:"subject_key" json:"subject_key"`
	Provider        string    `bson:"provider" json:"provider"`
	AccessToken     []byte    `bson:"access_token" json:"-"`
	RefreshToken    []byte    `bson:"refresh_token,omitempty" json:"-"`
	AccessExpiresAt time.Time `bson:"access_expires_at" json:"access_expires_at"`
	Scope           string    `bson:"scope,omitempty" json:"scope,omitempty"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
	Version         int64     `bson:"version" json:"version"`
}

// HasRefreshToken reports whether the record carries a refresh token.
// Providers without refresh support leave it empty.
func (r *TokenRecord) HasRefreshToken() bool {
	return len(r.RefreshToken) > 0
}
