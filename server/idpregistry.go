package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DelegatedClientCustomizer mutates a constructed client in place before it
// is cached. Customizers run in registration order; an error aborts the
// whole build.
type DelegatedClientCustomizer func(*DelegatedClient) error

// DelegatedClientInstance pairs a client produced by a builder with the
// properties that configured it.
type DelegatedClientInstance struct {
	Client     *DelegatedClient
	Properties DelegatedClientProperties
}

// ConfigurableDelegatedClientBuilder contributes additional delegated
// clients to a build. Builders are applied in ascending Order.
type ConfigurableDelegatedClientBuilder interface {
	Name() string
	Order() int
	Build(cfg Config) ([]DelegatedClientInstance, error)
	Configure(client *DelegatedClient, props DelegatedClientProperties, cfg Config) (*DelegatedClient, error)
}

const clientsCacheSize = 8

// DelegatedIdentityProviderRegistry builds, caches, and rebuilds the set of
// configured external identity providers. Build and Rebuild execute under a
// single per-registry mutex, so at most one load runs at a time and every
// caller blocked on an in-flight build observes the freshly built result.
type DelegatedIdentityProviderRegistry struct {
	mu          sync.Mutex
	cfg         Config
	tlsConfig   *tls.Config
	customizers []DelegatedClientCustomizer
	builders    []ConfigurableDelegatedClientBuilder
	cache       *lru.Cache[string, []*DelegatedClient]
	logger      *slog.Logger

	// load supplies the providers for a build. Defaults to the full
	// configuration-driven load; tests and alternate provider families may
	// replace it.
	load func(ctx context.Context) ([]*DelegatedClient, error)
}

// NewDelegatedIdentityProviderRegistry wires the registry. tlsConfig is the
// shared TLS context applied to interactive clients; it may be nil.
func NewDelegatedIdentityProviderRegistry(cfg Config, tlsConfig *tls.Config,
	customizers []DelegatedClientCustomizer, builders []ConfigurableDelegatedClientBuilder,
	logger *slog.Logger) *DelegatedIdentityProviderRegistry {

	cache, _ := lru.New[string, []*DelegatedClient](clientsCacheSize)
	r := &DelegatedIdentityProviderRegistry{
		cfg:         cfg,
		tlsConfig:   tlsConfig,
		customizers: customizers,
		builders:    builders,
		cache:       cache,
		logger:      logger,
	}
	r.load = r.loadIdentityProviders
	return r
}

// Build returns the cached client collection when lazy-init is enabled and
// the cache is populated; otherwise it performs a full load. The whole call
// runs inside the registry lock, plain cache hits included.
func (r *DelegatedIdentityProviderRegistry) Build(ctx context.Context) ([]*DelegatedClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.cachedClients()
	if len(current) == 0 || !r.cfg.Delegated.LazyInit {
		loaded, err := r.load(ctx)
		if err != nil {
			return nil, err
		}
		current = loaded
	}
	r.cache.Add(r.cfg.Server.Name, current)
	return current, nil
}

// Rebuild invalidates the cache and performs a fresh load. Any Build call
// that starts after Rebuild returns observes the rebuilt collection.
func (r *DelegatedIdentityProviderRegistry) Rebuild(ctx context.Context) ([]*DelegatedClient, error) {
	r.cache.Purge()
	return r.Build(ctx)
}

func (r *DelegatedIdentityProviderRegistry) cachedClients() []*DelegatedClient {
	clients, ok := r.cache.Get(r.cfg.Server.Name)
	if !ok {
		return nil
	}
	return clients
}

// loadIdentityProviders is the default loader: configuration-driven CAS and
// OIDC providers plus every registered builder, merged into an
// insertion-ordered set deduplicated by client name. A failure anywhere
// aborts the load; the cache keeps its previous value.
func (r *DelegatedIdentityProviderRegistry) loadIdentityProviders(ctx context.Context) ([]*DelegatedClient, error) {
	clients, err := r.buildCASIdentityProviders(ctx)
	if err != nil {
		return nil, err
	}

	oidcClients, err := r.buildOIDCIdentityProviders(ctx)
	if err != nil {
		return nil, err
	}
	clients = append(clients, oidcClients...)

	builders := make([]ConfigurableDelegatedClientBuilder, len(r.builders))
	copy(builders, r.builders)
	sort.SliceStable(builders, func(i, j int) bool { return builders[i].Order() < builders[j].Order() })

	for _, builder := range builders {
		instances, err := builder.Build(r.cfg)
		if err != nil {
			return nil, fmt.Errorf("delegated client builder %s: %w", builder.Name(), err)
		}
		r.logger.Debug("delegated client builder contributed clients",
			"builder", builder.Name(), "count", len(instances))
		for _, instance := range instances {
			prepared, err := r.configureClient(ctx, instance.Client, instance.Properties)
			if err != nil {
				return nil, err
			}
			final, err := builder.Configure(prepared, instance.Properties, r.cfg)
			if err != nil {
				return nil, fmt.Errorf("delegated client builder %s: configure %s: %w",
					builder.Name(), prepared.Name, err)
			}
			clients = append(clients, final)
		}
	}

	return dedupeByName(clients), nil
}

// buildCASIdentityProviders constructs clients for the configured CAS
// entries. Disabled entries and entries without a login URL are skipped,
// not errors.
func (r *DelegatedIdentityProviderRegistry) buildCASIdentityProviders(ctx context.Context) ([]*DelegatedClient, error) {
	var clients []*DelegatedClient
	for _, props := range r.cfg.Delegated.CAS {
		if !props.Enabled || strings.TrimSpace(props.LoginURL) == "" {
			continue
		}
		protocol := props.Protocol
		if protocol == "" {
			protocol = "CAS30"
		}
		client := &DelegatedClient{
			Type:       ClientTypeCAS,
			Indirect:   true,
			Properties: make(map[string]string),
			CAS: &CASClientSettings{
				LoginURL:  props.LoginURL,
				PrefixURL: casPrefixURL(props.LoginURL),
				Protocol:  protocol,
			},
			tlsConfig: r.tlsConfig,
		}
		configured, err := r.configureClient(ctx, client, props.DelegatedClientProperties)
		if err != nil {
			return nil, err
		}
		clients = append(clients, configured)
	}
	return clients, nil
}

// buildOIDCIdentityProviders constructs clients for the configured OIDC
// entries. Entries without an issuer are skipped.
func (r *DelegatedIdentityProviderRegistry) buildOIDCIdentityProviders(ctx context.Context) ([]*DelegatedClient, error) {
	var clients []*DelegatedClient
	for _, props := range r.cfg.Delegated.OIDC {
		if !props.Enabled || strings.TrimSpace(props.Issuer) == "" {
			continue
		}
		client := &DelegatedClient{
			Type:       ClientTypeOIDC,
			Indirect:   true,
			Properties: make(map[string]string),
			OIDC: &OIDCClientSettings{
				Issuer:       props.Issuer,
				ClientID:     props.ClientID,
				ClientSecret: props.ClientSecret,
				Scopes:       props.Scopes,
			},
			tlsConfig: r.tlsConfig,
		}
		configured, err := r.configureClient(ctx, client, props.DelegatedClientProperties)
		if err != nil {
			return nil, err
		}
		clients = append(clients, configured)
	}
	return clients, nil
}

// configureClient applies the shared configuration step: naming, custom
// properties, callback settings for interactive clients, customizers in
// registration order, and eager init when lazy-init is disabled.
func (r *DelegatedIdentityProviderRegistry) configureClient(ctx context.Context,
	client *DelegatedClient, props DelegatedClientProperties) (*DelegatedClient, error) {

	if name := strings.TrimSpace(props.ClientName); name != "" {
		client.Name = name
	} else {
		generated := fmt.Sprintf("%s%04d", client.TypeName(), rand.IntN(10000))
		client.Name = generated
		r.logger.Warn("delegated client name is generated; consider defining an explicit name",
			"type", client.TypeName(), "name", generated)
	}

	if client.Properties == nil {
		client.Properties = make(map[string]string)
	}
	client.Properties[PropertyAutoRedirectType] = props.AutoRedirectType
	setIfNotBlank(client.Properties, PropertyPrincipalIDAttribute, props.PrincipalIDAttribute)
	setIfNotBlank(client.Properties, PropertyCSSClass, props.CSSClass)
	setIfNotBlank(client.Properties, PropertyDisplayName, props.DisplayName)

	if client.Indirect {
		callbackURL := strings.TrimSpace(props.CallbackURL)
		if callbackURL == "" {
			callbackURL = r.cfg.Server.LoginURL
		}
		client.CallbackURL = callbackURL
		client.CallbackResolver = ParseCallbackURLResolver(props.CallbackURLType)
	}

	for _, customize := range r.customizers {
		if err := customize(client); err != nil {
			return nil, fmt.Errorf("customize delegated client %s: %w", client.Name, err)
		}
	}

	if !r.cfg.Delegated.LazyInit {
		if err := client.Init(ctx); err != nil {
			return nil, err
		}
	}
	r.logger.Debug("configured external identity provider", "name", client.Name, "type", client.Type)
	return client, nil
}

// casPrefixURL derives the CAS server prefix from its login URL by replacing
// a trailing login-flow segment with "/".
func casPrefixURL(loginURL string) string {
	prefix := loginURL
	if strings.HasSuffix(prefix, "/login") {
		prefix = strings.TrimSuffix(prefix, "/login") + "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func dedupeByName(clients []*DelegatedClient) []*DelegatedClient {
	seen := make(map[string]struct{}, len(clients))
	out := make([]*DelegatedClient, 0, len(clients))
	for _, c := range clients {
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	return out
}

func setIfNotBlank(props map[string]string, key, value string) {
	if strings.TrimSpace(value) != "" {
		props[key] = value
	}
}
