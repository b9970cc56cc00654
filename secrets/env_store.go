package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.pilab.hu/oauth-broker/domain"
)

// EnvStore is a SecretStore for deployments that inject provider
// credentials through the environment instead of a dedicated secret
// service. A credentialRef "sketchfab/oauth" maps to the variables
// SKETCHFAB_OAUTH_CLIENT_ID and SKETCHFAB_OAUTH_CLIENT_SECRET.
type EnvStore struct{}

var _ domain.SecretStore = (*EnvStore)(nil)

func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (s *EnvStore) GetSecret(_ context.Context, name string) ([]byte, error) {
	prefix := envPrefix(name)
	clientID := os.Getenv(prefix + "_CLIENT_ID")
	clientSecret := os.Getenv(prefix + "_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("no credentials in environment for %q", name)
	}
	return json.Marshal(domain.ClientCredentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

func envPrefix(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return replaced
}
