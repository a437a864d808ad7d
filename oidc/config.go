// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-accounts/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/cap-accounts/sdk/http"
	"github.com/hashicorp/go-multierror"
)

// LoginStyle decides how the browser completes a login.
type LoginStyle string

const (
	// PopupStyle completes the flow in a secondary window which signals its
	// opener and closes.
	PopupStyle LoginStyle = "popup"

	// RedirectStyle navigates the current page away to the IdP and back.
	RedirectStyle LoginStyle = "redirect"
)

// Valid reports whether s is a known login style.
func (s LoginStyle) Valid() bool {
	return s == PopupStyle || s == RedirectStyle
}

// ClientSecret is an oauth client secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// AssertionKey is a PEM encoded RSA private key used to sign client
// assertions.
type AssertionKey string

// RedactedAssertionKey is the redacted string or json for an assertion key
const RedactedAssertionKey = "[REDACTED: assertion key]"

// String will redact the key
func (k AssertionKey) String() string {
	return RedactedAssertionKey
}

// MarshalJSON will redact the key
func (k AssertionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAssertionKey)
}

// TokenAuthMethod is how the relying party authenticates itself to the token
// endpoint.
// See https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
type TokenAuthMethod string

const (
	// ClientSecretPost sends client_id and, when configured, client_secret
	// in the form body. It's the default.
	ClientSecretPost TokenAuthMethod = "client_secret_post"

	// ClientSecretJWT sends a client assertion signed with the client
	// secret (HMAC).
	ClientSecretJWT TokenAuthMethod = "client_secret_jwt"

	// PrivateKeyJWT sends a client assertion signed with the AssertionKey.
	PrivateKeyJWT TokenAuthMethod = "private_key_jwt"
)

// Valid returns true when m is a supported method; "" is ClientSecretPost.
func (m TokenAuthMethod) Valid() bool {
	switch m {
	case "", ClientSecretPost, ClientSecretJWT, PrivateKeyJWT:
		return true
	default:
		return false
	}
}

// Secret holds the server-only part of a provider's configuration.
type Secret struct {
	// ClientSecret is the relying party secret, if the IdP wants one.
	ClientSecret ClientSecret `json:"clientSecret,omitempty" mapstructure:"clientSecret"`

	// AuthMethod defaults to ClientSecretPost
	AuthMethod TokenAuthMethod `json:"authMethod,omitempty" mapstructure:"authMethod"`

	// AssertionKey is required by PrivateKeyJWT.
	AssertionKey AssertionKey `json:"assertionKey,omitempty" mapstructure:"assertionKey"`

	// AssertionAlg is the client assertion's signing algorithm. It defaults
	// to RS256 for PrivateKeyJWT and HS256 for ClientSecretJWT.
	AssertionAlg string `json:"assertionAlg,omitempty" mapstructure:"assertionAlg"`

	// AssertionKeyID is the optional "kid" header of client assertions.
	AssertionKeyID string `json:"assertionKeyId,omitempty" mapstructure:"assertionKeyId"`
}

// Method returns the token endpoint auth method, defaulting to
// ClientSecretPost.
func (s *Secret) Method() TokenAuthMethod {
	if s == nil || s.AuthMethod == "" {
		return ClientSecretPost
	}
	return s.AuthMethod
}

// Scope is an ordered list of oidc scopes. In JSON it may be written either
// as a space separated string or as a list of strings.
type Scope []string

// UnmarshalJSON accepts both a string and a list of strings.
func (s *Scope) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = strings.Fields(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("scope must be a string or a list of strings: %w", err)
	}
	*s = list
	return nil
}

// String returns the scopes joined with single spaces, the way they're sent
// on the wire.
func (s Scope) String() string {
	return strings.Join(s, " ")
}

// DefaultScope is requested when neither the login nor the configuration
// names any scope.
var DefaultScope = Scope{oidc.ScopeOpenID}

// ProviderConfig is the per-slug configuration of one IdP. It's supplied by a
// ConfigStore and must not change during a login attempt.
type ProviderConfig struct {
	// ClientID is the relying party id
	ClientID string `json:"clientId" mapstructure:"clientId"`

	// Secret is optional and never needed client side.
	Secret *Secret `json:"secret,omitempty" mapstructure:"secret"`

	// Scope defaults to DefaultScope
	Scope Scope `json:"scope,omitempty" mapstructure:"scope"`

	// LoginStyle defaults to PopupStyle
	LoginStyle LoginStyle `json:"loginStyle,omitempty" mapstructure:"loginStyle"`

	// LoginURLParameters are IdP specific parameters added to every
	// authorization request.
	LoginURLParameters map[string]string `json:"loginUrlParameters,omitempty" mapstructure:"loginUrlParameters"`

	// BaseURL is the discovery root: a GET of
	// ${BaseURL}/.well-known/openid-configuration must return the IdP's
	// metadata. It's only required when one of the explicit endpoints below
	// is missing.
	BaseURL string `json:"baseUrl,omitempty" mapstructure:"baseUrl"`

	AuthorizeEndpoint string `json:"authorizeEndpoint,omitempty" mapstructure:"authorizeEndpoint"`
	TokenEndpoint     string `json:"tokenEndpoint,omitempty" mapstructure:"tokenEndpoint"`
	UserinfoEndpoint  string `json:"userinfoEndpoint,omitempty" mapstructure:"userinfoEndpoint"`

	// PopupOptions are handed to the browser transport for popup logins
	// (for example: {"width": 600, "height": 800}).
	PopupOptions map[string]any `json:"popupOptions,omitempty" mapstructure:"popupOptions"`

	// ProviderCA is an optional PEM encoded CA cert to use when sending
	// requests to the IdP.
	ProviderCA string `json:"providerCA,omitempty" mapstructure:"providerCA"`
}

// Validate the provider configuration. It doesn't verify the BaseURL is
// discoverable via an http request.
func (c *ProviderConfig) Validate() error {
	const op = "ProviderConfig.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, errors.New("client id is empty"))
	}
	if c.LoginStyle != "" && !c.LoginStyle.Valid() {
		result = multierror.Append(result, fmt.Errorf("login style %q is not %q or %q", c.LoginStyle, PopupStyle, RedirectStyle))
	}
	if c.Secret != nil {
		switch {
		case !c.Secret.AuthMethod.Valid():
			result = multierror.Append(result, fmt.Errorf("token auth method %q is not supported", c.Secret.AuthMethod))
		case c.Secret.AuthMethod == ClientSecretJWT && c.Secret.ClientSecret == "":
			result = multierror.Append(result, fmt.Errorf("token auth method %q requires a client secret", ClientSecretJWT))
		case c.Secret.AuthMethod == PrivateKeyJWT && c.Secret.AssertionKey == "":
			result = multierror.Append(result, fmt.Errorf("token auth method %q requires an assertion key", PrivateKeyJWT))
		}
	}
	explicit := c.AuthorizeEndpoint != "" && c.TokenEndpoint != "" && c.UserinfoEndpoint != ""
	if c.BaseURL == "" && !explicit {
		result = multierror.Append(result, errors.New("base url is empty and not every endpoint is explicitly configured"))
	}
	for name, u := range map[string]string{
		"base url":           c.BaseURL,
		"authorize endpoint": c.AuthorizeEndpoint,
		"token endpoint":     c.TokenEndpoint,
		"userinfo endpoint":  c.UserinfoEndpoint,
	} {
		if u == "" {
			continue
		}
		if err := validateHTTPURL(u); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrConfig, err)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q is invalid: %w", raw, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("url %q scheme %q is not http or https", raw, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// ClientSecretValue returns the configured client secret or "".
func (c *ProviderConfig) ClientSecretValue() string {
	if c == nil || c.Secret == nil {
		return ""
	}
	return string(c.Secret.ClientSecret)
}

// Scopes returns the configured scopes, or DefaultScope when there are none.
func (c *ProviderConfig) Scopes() Scope {
	if c == nil || len(c.Scope) == 0 {
		return DefaultScope
	}
	return c.Scope
}

// Style returns the configured login style, defaulting to PopupStyle.
func (c *ProviderConfig) Style() LoginStyle {
	if c == nil || c.LoginStyle == "" {
		return PopupStyle
	}
	return c.LoginStyle
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *ProviderConfig) HTTPClient() (*http.Client, error) {
	const op = "ProviderConfig.HTTPClient"
	var ca string
	if c != nil {
		ca = c.ProviderCA
	}
	client, err := sdkHttp.NewClient(ca)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// httpClientCache holds one http client per ProviderCA, so a facade reuses
// its pooled connections across logins. The zero value is ready to use.
type httpClientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// get returns the cached client for c's ProviderCA, creating it on first use.
func (h *httpClientCache) get(c *ProviderConfig) (*http.Client, error) {
	var ca string
	if c != nil {
		ca = c.ProviderCA
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[ca]; ok {
		return client, nil
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, err
	}
	if h.clients == nil {
		h.clients = map[string]*http.Client{}
	}
	h.clients[ca] = client
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// ConfigStore supplies provider configurations by slug.
//
// Implementations must be concurrently safe and must return an error
// matching ErrConfig when no configuration exists for the slug.
type ConfigStore interface {
	Config(ctx context.Context, slug string) (*ProviderConfig, error)
}

// StaticConfigStore is an in-memory ConfigStore. It is concurrently safe.
type StaticConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*ProviderConfig
}

var _ ConfigStore = (*StaticConfigStore)(nil)

// NewStaticConfigStore creates a StaticConfigStore holding a copy of configs.
func NewStaticConfigStore(configs map[string]*ProviderConfig) *StaticConfigStore {
	s := &StaticConfigStore{configs: make(map[string]*ProviderConfig, len(configs))}
	for slug, c := range configs {
		s.configs[slug] = c
	}
	return s
}

// Set adds or replaces the configuration of slug.
func (s *StaticConfigStore) Set(slug string, c *ProviderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configs == nil {
		s.configs = map[string]*ProviderConfig{}
	}
	s.configs[slug] = c
}

// Config returns a copy of the configuration of slug.
func (s *StaticConfigStore) Config(_ context.Context, slug string) (*ProviderConfig, error) {
	const op = "StaticConfigStore.Config"
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[slug]
	if !ok || c == nil {
		return nil, fmt.Errorf("%s: no configuration for service %q: %w: %w", op, slug, ErrConfig, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// RedirectPathPrefix is the path under the application root where the
// OAuth callback of every slug is served.
const RedirectPathPrefix = "/_oauth/"

// RedirectURI returns the fixed redirect URI of slug: <rootURL>/_oauth/<slug>.
// It is not configurable, since the callback endpoint is wired to exactly
// this path.
func RedirectURI(rootURL, slug string) string {
	return strutils.JoinPath(rootURL, RedirectPathPrefix+url.PathEscape(slug))
}

// AppURL returns the application root with a trailing "/".
func AppURL(rootURL string) string {
	return strings.TrimSuffix(rootURL, "/") + "/"
}

// IsAppURL reports whether u is an absolute URL under the application root:
// same scheme and host as rootURL, no userinfo, and a path below AppURL's.
func IsAppURL(rootURL, u string) bool {
	root, err := url.Parse(AppURL(rootURL))
	if err != nil {
		return false
	}
	target, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch {
	case target.User != nil, target.Opaque != "":
		return false
	case !strings.EqualFold(target.Scheme, root.Scheme), !strings.EqualFold(target.Host, root.Host):
		return false
	}
	targetPath := target.EscapedPath()
	if targetPath == "" {
		targetPath = "/"
	}
	return targetPath == strings.TrimSuffix(root.EscapedPath(), "/") || strings.HasPrefix(targetPath, root.EscapedPath())
}
