package domain

// RawTokenResponse is the provider token endpoint payload after the
// descriptor's ResponseAdapter has normalized field names. ExpiresIn is in
// seconds; zero means the provider did not report an expiry.
type RawTokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	Raw          map[string]any
}

// UserInfo is the normalized userinfo shape returned to callers.
type UserInfo struct {
	ID         string         `json:"id"`
	Username   string         `json:"username,omitempty"`
	Email      string         `json:"email,omitempty"`
	ProfileURL string         `json:"profile_url,omitempty"`
	AvatarURL  string         `json:"avatar_url,omitempty"`
	RawData    map[string]any `json:"raw_data,omitempty"`
}

// ResponseAdapter maps a provider-specific token endpoint JSON body to the
// canonical RawTokenResponse.
type ResponseAdapter func(body map[string]any) (*RawTokenResponse, error)

// UserInfoAdapter maps a provider-specific userinfo JSON body to UserInfo.
type UserInfoAdapter func(body map[string]any) (*UserInfo, error)

// ProviderDescriptor holds the configuration for an upstream OAuth2
// provider. Descriptors are built once at startup and never mutated, so the
// registry can serve concurrent lookups without locking.
type ProviderDescriptor struct {
	Name          string
	AuthorizeURL  string
	TokenURL      string
	UserInfoURL   string // empty: provider exposes no usable userinfo endpoint
	Scopes        []string
	CredentialRef string // name used for secret resolution

	// AuthorizeParams are extra query parameters appended to the authorize
	// redirect (e.g. access_type=offline for Google).
	AuthorizeParams map[string]string

	ResponseAdapter ResponseAdapter
	UserInfoAdapter UserInfoAdapter
}

// ClientCredentials is the secret payload resolved for a provider.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}
