package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth-broker/domain"
	brokererrors "go.pilab.hu/oauth-broker/errors"
	"go.pilab.hu/oauth-broker/log"
)

type fakeSecretStore struct {
	mu      sync.Mutex
	calls   int32
	payload []byte
	err     error
	delay   time.Duration
}

func (f *fakeSecretStore) GetSecret(_ context.Context, _ string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func credsPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.ClientCredentials{
		ClientID:     "cid",
		ClientSecret: "csecret",
	})
	require.NoError(t, err)
	return payload
}

func testLogger() log.Logger {
	return log.NewZerologAdapter(zerolog.Disabled, false)
}

func TestResolver_CacheHitSkipsStore(t *testing.T) {
	store := &fakeSecretStore{payload: credsPayload(t)}
	resolver := NewResolver(store, time.Minute, testLogger())
	defer resolver.Close()

	ctx := context.Background()
	creds, err := resolver.Resolve(ctx, "sketchfab/oauth")
	require.NoError(t, err)
	assert.Equal(t, "cid", creds.ClientID)

	_, err = resolver.Resolve(ctx, "sketchfab/oauth")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.calls))
}

func TestResolver_ConcurrentMissesCoalesce(t *testing.T) {
	store := &fakeSecretStore{payload: credsPayload(t), delay: 50 * time.Millisecond}
	resolver := NewResolver(store, time.Minute, testLogger())
	defer resolver.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := resolver.Resolve(context.Background(), "sketchfab/oauth")
			assert.NoError(t, err)
			assert.Equal(t, "cid", creds.ClientID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&store.calls))
}

func TestResolver_StoreFailureSurfacesAsSecretUnavailable(t *testing.T) {
	store := &fakeSecretStore{err: errors.New("connection refused")}
	resolver := NewResolver(store, time.Minute, testLogger())
	defer resolver.Close()

	_, err := resolver.Resolve(context.Background(), "sketchfab/oauth")
	assert.ErrorIs(t, err, brokererrors.ErrSecretUnavailable)
	// Bounded retries, not indefinite.
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.calls))
}

func TestResolver_MalformedPayloadRejected(t *testing.T) {
	store := &fakeSecretStore{payload: []byte("{not json")}
	resolver := NewResolver(store, time.Minute, testLogger())
	defer resolver.Close()

	_, err := resolver.Resolve(context.Background(), "sketchfab/oauth")
	assert.ErrorIs(t, err, brokererrors.ErrSecretUnavailable)
}

func TestResolver_ExpiredEntryRefetches(t *testing.T) {
	store := &fakeSecretStore{payload: credsPayload(t)}
	resolver := NewResolver(store, 30*time.Millisecond, testLogger())
	defer resolver.Close()

	ctx := context.Background()
	_, err := resolver.Resolve(ctx, "sketchfab/oauth")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = resolver.Resolve(ctx, "sketchfab/oauth")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&store.calls))
}
