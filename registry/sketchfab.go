package registry

import (
	"fmt"

	"go.pilab.hu/oauth-broker/domain"
)

func sketchfabDescriptor() *domain.ProviderDescriptor {
	return &domain.ProviderDescriptor{
		Name:            "sketchfab",
		AuthorizeURL:    "https://sketchfab.com/oauth2/authorize/",
		TokenURL:        "https://sketchfab.com/oauth2/token/",
		UserInfoURL:     "https://sketchfab.com/v2/users/me",
		Scopes:          []string{"read"},
		CredentialRef:   "sketchfab/oauth",
		ResponseAdapter: StandardResponseAdapter,
		UserInfoAdapter: sketchfabUserInfoAdapter,
	}
}

// sketchfabUserInfoAdapter maps the Sketchfab profile shape: the subject
// id is "uid" and the avatar URL sits under a nested "avatar" object.
func sketchfabUserInfoAdapter(body map[string]any) (*domain.UserInfo, error) {
	uid := stringField(body, "uid")
	if uid == "" {
		return nil, fmt.Errorf("sketchfab userinfo missing uid")
	}

	avatarURL := ""
	if avatar, ok := body["avatar"].(map[string]any); ok {
		avatarURL = stringField(avatar, "url")
	}

	return &domain.UserInfo{
		ID:         uid,
		Username:   stringField(body, "username"),
		Email:      stringField(body, "email"),
		ProfileURL: stringField(body, "profileUrl"),
		AvatarURL:  avatarURL,
		RawData:    body,
	}, nil
}
