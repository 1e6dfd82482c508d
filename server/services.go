package server

import (
	"errors"
	"slices"
	"strings"
)

// AccessTokenPolicyOverride carries a per-service expiration override. Both
// fields must be non-blank for the override to take effect.
type AccessTokenPolicyOverride struct {
	MaxTimeToLive string `yaml:"max_time_to_live"`
	TimeToKill    string `yaml:"time_to_kill"`
}

// RegisteredService is a relying party configured to accept tickets from
// this server.
type RegisteredService struct {
	ServiceID         string
	Name              string
	ClientID          string
	ClientSecret      string
	RedirectURIs      []string
	Scopes            []string
	AccessTokenPolicy *AccessTokenPolicyOverride
}

// ServiceRegistry resolves client identifiers to registered services.
type ServiceRegistry struct {
	services map[string]*RegisteredService
}

// NewServiceRegistry builds the registry from configuration.
func NewServiceRegistry(cfgs []ServiceConfig) (*ServiceRegistry, error) {
	services := make(map[string]*RegisteredService, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ClientID == "" {
			return nil, errors.New("client_id required for registered service")
		}
		svc := &RegisteredService{
			ServiceID:    cfg.ServiceID,
			Name:         cfg.Name,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURIs: cfg.RedirectURIs,
			Scopes:       cfg.Scopes,
		}
		if cfg.AccessToken != nil {
			svc.AccessTokenPolicy = &AccessTokenPolicyOverride{
				MaxTimeToLive: cfg.AccessToken.MaxTimeToLive,
				TimeToKill:    cfg.AccessToken.TimeToKill,
			}
		}
		services[cfg.ClientID] = svc
	}
	return &ServiceRegistry{services: services}, nil
}

// FindByClientID resolves a relying party by its OAuth client id.
func (sr *ServiceRegistry) FindByClientID(clientID string) (*RegisteredService, bool) {
	svc, ok := sr.services[clientID]
	return svc, ok
}

// Authenticate validates relying-party credentials.
func (sr *ServiceRegistry) Authenticate(clientID, secret string) (*RegisteredService, error) {
	svc, ok := sr.services[clientID]
	if !ok {
		return nil, errors.New("invalid_client")
	}
	if svc.ClientSecret != "" && secret != svc.ClientSecret {
		return nil, errors.New("invalid_client")
	}
	return svc, nil
}

// ValidateScopes ensures requested scopes are a subset of the registration.
func (s *RegisteredService) ValidateScopes(scopes []string) bool {
	for _, sc := range scopes {
		if !slices.Contains(s.Scopes, sc) {
			return false
		}
	}
	return true
}

// SplitScopes parses a space-delimited scope string.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}
