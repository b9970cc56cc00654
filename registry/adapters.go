package registry

import (
	"fmt"
	"strings"

	"go.pilab.hu/oauth-broker/domain"
)

// StandardResponseAdapter handles the common RFC 6749 token response
// shape. Scope may arrive as a string or, from some providers, a list.
func StandardResponseAdapter(body map[string]any) (*domain.RawTokenResponse, error) {
	accessToken := stringField(body, "access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &domain.RawTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: stringField(body, "refresh_token"),
		TokenType:    stringField(body, "token_type"),
		ExpiresIn:    int64Field(body, "expires_in"),
		Scope:        scopeField(body["scope"]),
		Raw:          body,
	}, nil
}

func standardUserInfoAdapter(body map[string]any) (*domain.UserInfo, error) {
	id := stringField(body, "sub")
	if id == "" {
		id = stringField(body, "id")
	}
	if id == "" {
		return nil, fmt.Errorf("userinfo response has no subject identifier")
	}
	return &domain.UserInfo{
		ID:         id,
		Username:   firstString(body, "preferred_username", "username", "login"),
		Email:      stringField(body, "email"),
		ProfileURL: firstString(body, "profile", "html_url"),
		AvatarURL:  firstString(body, "picture", "avatar_url"),
		RawData:    body,
	}, nil
}

func stringField(body map[string]any, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(body, key); v != "" {
			return v
		}
	}
	return ""
}

func int64Field(body map[string]any, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// scopeField normalizes scope to a space-joined string; a few providers
// return it as a JSON array.
func scopeField(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		parts := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
