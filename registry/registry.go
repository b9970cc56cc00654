// Package registry maps provider names to immutable descriptors. The
// registry is assembled once at startup and read-only afterwards, so
// concurrent lookups need no locking. New providers are added by
// registering a descriptor and adapters, never by touching the broker
// service.
package registry

import (
	"fmt"

	"go.pilab.hu/oauth-broker/config"
	"go.pilab.hu/oauth-broker/domain"
	"go.pilab.hu/oauth-broker/errors"
)

// Registry holds the provider descriptors.
type Registry struct {
	providers map[string]*domain.ProviderDescriptor
	names     []string
}

// New builds a registry from the built-in providers plus any generic
// providers declared in config. A config entry whose name matches a
// built-in provider overrides only its credential ref and scopes.
func New(cfgProviders []config.ProviderConfig) (*Registry, error) {
	reg := &Registry{providers: make(map[string]*domain.ProviderDescriptor)}

	for _, desc := range []*domain.ProviderDescriptor{
		sketchfabDescriptor(),
		googleDescriptor(),
	} {
		if err := reg.register(desc); err != nil {
			return nil, err
		}
	}

	for _, pc := range cfgProviders {
		if builtin, ok := reg.providers[pc.Name]; ok {
			if pc.CredentialRef != "" {
				builtin.CredentialRef = pc.CredentialRef
			}
			if len(pc.Scopes) > 0 {
				builtin.Scopes = pc.Scopes
			}
			continue
		}
		desc, err := genericDescriptor(pc)
		if err != nil {
			return nil, err
		}
		if err := reg.register(desc); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func (r *Registry) register(desc *domain.ProviderDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("provider descriptor has no name")
	}
	if _, exists := r.providers[desc.Name]; exists {
		return fmt.Errorf("duplicate provider name %q", desc.Name)
	}
	r.providers[desc.Name] = desc
	r.names = append(r.names, desc.Name)
	return nil
}

// Describe returns the descriptor for a provider name.
func (r *Registry) Describe(name string) (*domain.ProviderDescriptor, error) {
	desc, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownProvider, name)
	}
	return desc, nil
}

// Names lists the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func genericDescriptor(pc config.ProviderConfig) (*domain.ProviderDescriptor, error) {
	if pc.AuthorizeURL == "" || pc.TokenURL == "" {
		return nil, fmt.Errorf("provider %q: authorize_url and token_url are required", pc.Name)
	}
	credentialRef := pc.CredentialRef
	if credentialRef == "" {
		credentialRef = pc.Name + "/oauth"
	}
	return &domain.ProviderDescriptor{
		Name:            pc.Name,
		AuthorizeURL:    pc.AuthorizeURL,
		TokenURL:        pc.TokenURL,
		UserInfoURL:     pc.UserInfoURL,
		Scopes:          pc.Scopes,
		CredentialRef:   credentialRef,
		AuthorizeParams: pc.Params,
		ResponseAdapter: StandardResponseAdapter,
		UserInfoAdapter: standardUserInfoAdapter,
	}, nil
}
