package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProviderConfig declares a generic OAuth provider in the config file.
// Built-in providers (sketchfab, google) only need a credential_ref entry;
// endpoints and adapters ship with the registry.
type ProviderConfig struct {
	Name          string            `mapstructure:"name"`
	AuthorizeURL  string            `mapstructure:"authorize_url"`
	TokenURL      string            `mapstructure:"token_url"`
	UserInfoURL   string            `mapstructure:"userinfo_url"`
	Scopes        []string          `mapstructure:"scopes"`
	CredentialRef string            `mapstructure:"credential_ref"`
	Params        map[string]string `mapstructure:"params"`
}

// ServerConfig holds all configuration for the broker server.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// CallbackBaseURL is the externally visible base URL of this service;
	// the provider redirect URI is CallbackBaseURL + /api/oauth/callback/{name}.
	CallbackBaseURL string `mapstructure:"CALLBACK_BASE_URL"`

	// StateSigningKey signs state tokens. TokenCipherKey encrypts stored
	// tokens at rest; it must decode to 32 bytes. Both rotate out-of-band.
	StateSigningKey string `mapstructure:"STATE_SIGNING_KEY"`
	TokenCipherKey  string `mapstructure:"TOKEN_CIPHER_KEY"`

	StateTTLMin        int `mapstructure:"STATE_TTL_MIN"`
	SecretCacheTTLSec  int `mapstructure:"SECRET_CACHE_TTL_SEC"`
	ProviderTimeoutSec int `mapstructure:"PROVIDER_TIMEOUT_SEC"`

	// AllowedReturnPrefixes constrains caller-supplied return targets.
	// A return context must match one of these path prefixes.
	AllowedReturnPrefixes []string `mapstructure:"ALLOWED_RETURN_PREFIXES"`

	Providers []ProviderConfig `mapstructure:"PROVIDERS"`
}

// StateTTL returns the state token validity window.
func (c *ServerConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMin) * time.Minute
}

// SecretCacheTTL returns the secret cache entry lifetime.
func (c *ServerConfig) SecretCacheTTL() time.Duration {
	return time.Duration(c.SecretCacheTTLSec) * time.Second
}

// ProviderTimeout returns the per-call timeout for outbound provider and
// secret store requests.
func (c *ServerConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

// LoadConfig reads configuration from file, environment variables, and
// defaults, in that order of increasing precedence for env.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oauth-broker/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/oauth_broker_dev")
	v.SetDefault("MONGO_DB_NAME", "oauth_broker_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8080")
	v.SetDefault("STATE_TTL_MIN", 10)
	v.SetDefault("SECRET_CACHE_TTL_SEC", 300)
	v.SetDefault("PROVIDER_TIMEOUT_SEC", 10)
	v.SetDefault("ALLOWED_RETURN_PREFIXES", []string{"/app/"})

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
