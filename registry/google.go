package registry

import "go.pilab.hu/oauth-broker/domain"

// googleDescriptor configures Google. access_type=offline plus
// prompt=consent is what makes Google return a refresh token on every
// consent. No userinfo URL: profile retrieval is skipped for Google and
// callers use the tokens directly.
func googleDescriptor() *domain.ProviderDescriptor {
	return &domain.ProviderDescriptor{
		Name:          "google",
		AuthorizeURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		Scopes:        []string{"openid", "email", "profile"},
		CredentialRef: "google/oauth",
		AuthorizeParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		ResponseAdapter: StandardResponseAdapter,
	}
}
