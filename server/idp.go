package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Delegated client variants.
const (
	ClientTypeCAS  = "cas"
	ClientTypeOIDC = "oidc"
)

// Custom property keys attached to delegated clients for the login UI and
// principal resolution.
const (
	PropertyAutoRedirectType     = "auto_redirect_type"
	PropertyPrincipalIDAttribute = "principal_id_attribute"
	PropertyCSSClass             = "css_class"
	PropertyDisplayName          = "display_name"
)

// CallbackURLResolver selects how the callback URL identifies the client on
// the way back from an interactive provider.
type CallbackURLResolver int

const (
	CallbackResolverNone CallbackURLResolver = iota
	CallbackResolverPathParameter
	CallbackResolverQueryParameter
)

// ParseCallbackURLResolver maps the configured callback_url_type value.
// Unrecognized values fall back to the none resolver.
func ParseCallbackURLResolver(s string) CallbackURLResolver {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "path_parameter":
		return CallbackResolverPathParameter
	case "query_parameter":
		return CallbackResolverQueryParameter
	default:
		return CallbackResolverNone
	}
}

func (r CallbackURLResolver) String() string {
	switch r {
	case CallbackResolverPathParameter:
		return "path_parameter"
	case CallbackResolverQueryParameter:
		return "query_parameter"
	default:
		return "none"
	}
}

// CASClientSettings holds the CAS-protocol variant fields.
type CASClientSettings struct {
	LoginURL  string
	PrefixURL string
	Protocol  string
}

// OIDCClientSettings holds the OIDC variant fields. The oauth2 config and
// verifier are populated by Init via issuer discovery.
type OIDCClientSettings struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string

	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// DelegatedClient describes one configured external identity provider. The
// variant is a tagged field rather than a type hierarchy; callback fields
// are meaningful only for interactive (Indirect) clients.
type DelegatedClient struct {
	Type             string
	Name             string
	Indirect         bool
	CallbackURL      string
	CallbackResolver CallbackURLResolver
	Properties       map[string]string

	CAS  *CASClientSettings
	OIDC *OIDCClientSettings

	tlsConfig   *tls.Config
	initialized bool
}

// TypeName returns the variant's simple type name, used when generating
// client names.
func (c *DelegatedClient) TypeName() string {
	switch c.Type {
	case ClientTypeCAS:
		return "CasClient"
	case ClientTypeOIDC:
		return "OidcClient"
	default:
		return "DelegatedClient"
	}
}

// Initialized reports whether Init has completed for this client.
func (c *DelegatedClient) Initialized() bool {
	return c.initialized
}

// Init prepares the client for use. For OIDC clients this performs issuer
// discovery and may block on network I/O; CAS clients only validate their
// endpoint. Called eagerly during a build when lazy-init is disabled.
func (c *DelegatedClient) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	switch c.Type {
	case ClientTypeCAS:
		if _, err := url.Parse(c.CAS.LoginURL); err != nil {
			return fmt.Errorf("cas client %s: invalid login url: %w", c.Name, err)
		}
	case ClientTypeOIDC:
		if c.tlsConfig != nil {
			httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: c.tlsConfig}}
			ctx = oidc.ClientContext(ctx, httpClient)
		}
		provider, err := oidc.NewProvider(ctx, c.OIDC.Issuer)
		if err != nil {
			return fmt.Errorf("discover provider %s: %w", c.Name, err)
		}
		scopes := c.OIDC.Scopes
		if len(scopes) == 0 {
			scopes = []string{oidc.ScopeOpenID, "profile", "email"}
		}
		c.OIDC.oauth = &oauth2.Config{
			ClientID:     c.OIDC.ClientID,
			ClientSecret: c.OIDC.ClientSecret,
			RedirectURL:  c.CallbackURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		}
		c.OIDC.verifier = provider.Verifier(&oidc.Config{ClientID: c.OIDC.ClientID})
	}
	c.initialized = true
	return nil
}

// AuthCodeURL constructs the authorization redirect for an initialized OIDC
// client.
func (c *DelegatedClient) AuthCodeURL(state, nonce string) (string, error) {
	if c.Type != ClientTypeOIDC || c.OIDC.oauth == nil {
		return "", fmt.Errorf("client %s is not an initialized oidc client", c.Name)
	}
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return c.OIDC.oauth.AuthCodeURL(state, opts...), nil
}

// descriptorView is the JSON shape served to the login UI.
type descriptorView struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Resolver    string            `json:"callback_resolver,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

func descriptorViews(clients []*DelegatedClient) []descriptorView {
	out := make([]descriptorView, 0, len(clients))
	for _, c := range clients {
		view := descriptorView{
			Name:       c.Name,
			Type:       c.Type,
			Properties: c.Properties,
		}
		if c.Indirect {
			view.CallbackURL = c.CallbackURL
			view.Resolver = c.CallbackResolver.String()
		}
		out = append(out, view)
	}
	return out
}
