package domain

import "time"

// StateClaims is the payload carried inside a signed state token. The token
// itself is self-contained: claims live only in its encoded bytes, never in
// durable storage. Only the nonce is recorded server-side, once, at
// consumption time.
type StateClaims struct {
	Provider      string    `json:"p"`
	Nonce         string    `json:"n"`
	IssuedAt      time.Time `json:"iat"`
	ExpiresAt     time.Time `json:"exp"`
	ReturnContext string    `json:"rc,omitempty"`
}
