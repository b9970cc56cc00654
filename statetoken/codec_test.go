package statetoken

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth-broker/errors"
)

// memNonces is an in-memory NonceRepository for codec tests.
type memNonces struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemNonces() *memNonces {
	return &memNonces{seen: make(map[string]bool)}
}

func (m *memNonces) Consume(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[nonce] {
		return false, nil
	}
	m.seen[nonce] = true
	return true, nil
}

func newTestCodec(t *testing.T, ttl time.Duration) (*Codec, *memNonces) {
	t.Helper()
	nonces := newMemNonces()
	return NewCodec([]byte("test-signing-key"), ttl, nonces), nonces
}

func TestCodec_IssueVerifyRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t, 10*time.Minute)

	token, err := codec.Issue("sketchfab", "/app/done")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := codec.VerifyAndConsume(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "sketchfab", claims.Provider)
	assert.Equal(t, "/app/done", claims.ReturnContext)
	assert.NotEmpty(t, claims.Nonce)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
}

func TestCodec_SecondUseFails(t *testing.T) {
	codec, _ := newTestCodec(t, 10*time.Minute)

	token, err := codec.Issue("sketchfab", "/app/done")
	require.NoError(t, err)

	_, err = codec.VerifyAndConsume(context.Background(), token)
	require.NoError(t, err)

	_, err = codec.VerifyAndConsume(context.Background(), token)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCodec_ExpiredTokenFails(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute)

	token, err := codec.Issue("sketchfab", "")
	require.NoError(t, err)

	codec.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = codec.VerifyAndConsume(context.Background(), token)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCodec_SkewGraceOnExpiry(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute)

	token, err := codec.Issue("sketchfab", "")
	require.NoError(t, err)

	// Just past expiry but inside the grace window.
	codec.now = func() time.Time { return time.Now().Add(time.Minute + 2*time.Second) }
	_, err = codec.VerifyAndConsume(context.Background(), token)
	assert.NoError(t, err)
}

func TestCodec_TamperedPayloadFails(t *testing.T) {
	codec, _ := newTestCodec(t, 10*time.Minute)

	token, err := codec.Issue("sketchfab", "/app/done")
	require.NoError(t, err)

	payload, sig, ok := strings.Cut(token, ".")
	require.True(t, ok)
	tampered := payload[:len(payload)-2] + "xx." + sig

	_, err = codec.VerifyAndConsume(context.Background(), tampered)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCodec_WrongKeyFails(t *testing.T) {
	codec, nonces := newTestCodec(t, 10*time.Minute)
	other := NewCodec([]byte("different-key"), 10*time.Minute, nonces)

	token, err := codec.Issue("sketchfab", "")
	require.NoError(t, err)

	_, err = other.VerifyAndConsume(context.Background(), token)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCodec_MalformedTokenFails(t *testing.T) {
	codec, _ := newTestCodec(t, 10*time.Minute)

	for _, token := range []string{"", "no-dot", "a.b", "!!!.###"} {
		_, err := codec.VerifyAndConsume(context.Background(), token)
		assert.ErrorIs(t, err, errors.ErrInvalidState, "token %q", token)
	}
}

func TestCodec_NonceStoreOutageFailsClosed(t *testing.T) {
	codec, nonces := newTestCodec(t, 10*time.Minute)

	token, err := codec.Issue("sketchfab", "")
	require.NoError(t, err)

	nonces.err = assert.AnError
	_, err = codec.VerifyAndConsume(context.Background(), token)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCodec_OversizedReturnContextRejected(t *testing.T) {
	codec, _ := newTestCodec(t, 10*time.Minute)

	_, err := codec.Issue("sketchfab", strings.Repeat("x", 600))
	assert.ErrorIs(t, err, errors.ErrInvalidReturnTarget)
}
