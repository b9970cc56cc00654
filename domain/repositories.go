package domain

import (
	"context"
	"time"
)

// TokenRecordRepository persists token records keyed by (subject, provider).
//
// Put with a nil expectedVersion means "create, fail if a record already
// exists" and returns errors.ErrRecordExists on a duplicate. Put with a
// concrete expectedVersion performs a conditional update and returns
// errors.ErrVersionConflict when the stored version differs. All
// cross-process refresh coordination rides on this primitive; the broker
// never takes in-process locks around it.
type TokenRecordRepository interface {
	Get(ctx context.Context, subjectKey, provider string) (*TokenRecord, error)
	Put(ctx context.Context, record *TokenRecord, expectedVersion *int64) error
	Delete(ctx context.Context, subjectKey, provider string) error
}

// NonceRepository is the consumed-nonce guard behind single-use state
// tokens. Consume must be atomic create-if-absent: the first caller for a
// nonce gets true, every later caller gets false until ttl elapses.
type NonceRepository interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// SecretStore is the external secret-retrieval service, consumed as a
// get-secret-by-name interface. Payloads are provider credential JSON.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
}
