// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/cap-accounts/oidc/internal/strutils"
)

// Endpoint names one of the three IdP endpoints used by the authorization
// code flow.
type Endpoint string

const (
	EndpointAuthorization Endpoint = "authorization"
	EndpointToken         Endpoint = "token"
	EndpointUserinfo      Endpoint = "userinfo"
)

// DiscoveryField returns the name of the endpoint's field in a discovery
// document, e.g. "token_endpoint".
func (e Endpoint) DiscoveryField() string {
	return string(e) + "_endpoint"
}

// EndpointResolver resolves endpoint URLs, preferring the explicitly
// configured value over the discovered one.
type EndpointResolver struct {
	cache *WellKnownCache
}

// NewEndpointResolver creates a resolver backed by cache. A nil cache gets a
// private one.
func NewEndpointResolver(cache *WellKnownCache) *EndpointResolver {
	if cache == nil {
		cache = NewWellKnownCache()
	}
	return &EndpointResolver{cache: cache}
}

// Cache returns the resolver's discovery cache.
func (r *EndpointResolver) Cache() *WellKnownCache { return r.cache }

// Resolve returns the URL of which for the provider c.
//
// An explicit AuthorizeEndpoint, TokenEndpoint or UserinfoEndpoint is
// returned verbatim. Otherwise the discovery document of c.BaseURL is used:
// an absolute URL is returned unchanged, a relative one is appended to
// BaseURL with exactly one "/" between them.
func (r *EndpointResolver) Resolve(ctx context.Context, c *ProviderConfig, which Endpoint) (string, error) {
	const op = "EndpointResolver.Resolve"
	if c == nil {
		return "", fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var explicit string
	switch which {
	case EndpointAuthorization:
		explicit = c.AuthorizeEndpoint
	case EndpointToken:
		explicit = c.TokenEndpoint
	case EndpointUserinfo:
		explicit = c.UserinfoEndpoint
	default:
		return "", fmt.Errorf("%s: unknown endpoint %q: %w", op, which, ErrInvalidParameter)
	}
	if explicit != "" {
		return explicit, nil
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("%s: %s endpoint is not configured and base url is not set: %w", op, which, ErrConfig)
	}

	doc, err := r.cache.Resolve(ctx, c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	discovered := doc.Endpoint(which)
	if discovered == "" {
		return "", fmt.Errorf("%s: discovery document of %s has no %s: %w", op, c.BaseURL, which.DiscoveryField(), ErrDiscovery)
	}
	u, err := url.Parse(discovered)
	if err != nil {
		return "", fmt.Errorf("%s: discovered %s %q is invalid: %w: %w", op, which.DiscoveryField(), discovered, ErrDiscovery, err)
	}
	if u.IsAbs() {
		return discovered, nil
	}
	return strutils.JoinPath(c.BaseURL, discovered), nil
}
