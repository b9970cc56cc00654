package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth-broker/config"
	"go.pilab.hu/oauth-broker/errors"
)

func TestRegistry_DescribeBuiltins(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)

	sketchfab, err := reg.Describe("sketchfab")
	require.NoError(t, err)
	assert.Equal(t, "https://sketchfab.com/oauth2/authorize/", sketchfab.AuthorizeURL)
	assert.Equal(t, "sketchfab/oauth", sketchfab.CredentialRef)
	assert.NotNil(t, sketchfab.UserInfoAdapter)

	google, err := reg.Describe("google")
	require.NoError(t, err)
	assert.Equal(t, "offline", google.AuthorizeParams["access_type"])
	assert.Empty(t, google.UserInfoURL)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)

	_, err = reg.Describe("does-not-exist")
	assert.ErrorIs(t, err, errors.ErrUnknownProvider)
}

func TestRegistry_GenericProviderFromConfig(t *testing.T) {
	reg, err := New([]config.ProviderConfig{{
		Name:         "gitea",
		AuthorizeURL: "https://gitea.example.com/login/oauth/authorize",
		TokenURL:     "https://gitea.example.com/login/oauth/access_token",
		UserInfoURL:  "https://gitea.example.com/api/v1/user",
		Scopes:       []string{"read:user"},
	}})
	require.NoError(t, err)

	desc, err := reg.Describe("gitea")
	require.NoError(t, err)
	assert.Equal(t, "gitea/oauth", desc.CredentialRef)
	assert.Contains(t, reg.Names(), "gitea")
}

func TestRegistry_ConfigOverridesBuiltinCredentialRef(t *testing.T) {
	reg, err := New([]config.ProviderConfig{{
		Name:          "sketchfab",
		CredentialRef: "prod/sketchfab",
	}})
	require.NoError(t, err)

	desc, err := reg.Describe("sketchfab")
	require.NoError(t, err)
	assert.Equal(t, "prod/sketchfab", desc.CredentialRef)
}

func TestRegistry_GenericProviderRequiresEndpoints(t *testing.T) {
	_, err := New([]config.ProviderConfig{{Name: "broken"}})
	assert.Error(t, err)
}

func TestSketchfabUserInfoAdapter(t *testing.T) {
	info, err := sketchfabUserInfoAdapter(map[string]any{
		"uid":        "u-123",
		"username":   "artist",
		"email":      "artist@example.com",
		"profileUrl": "https://sketchfab.com/artist",
		"avatar":     map[string]any{"url": "https://media.sketchfab.com/a.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u-123", info.ID)
	assert.Equal(t, "artist", info.Username)
	assert.Equal(t, "https://media.sketchfab.com/a.png", info.AvatarURL)
}

func TestStandardResponseAdapter_ScopeList(t *testing.T) {
	resp, err := StandardResponseAdapter(map[string]any{
		"access_token": "AT1",
		"expires_in":   float64(3600),
		"scope":        []any{"openid", "email"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openid email", resp.Scope)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
}

func TestStandardResponseAdapter_MissingAccessToken(t *testing.T) {
	_, err := StandardResponseAdapter(map[string]any{"token_type": "Bearer"})
	assert.Error(t, err)
}
