// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/cap-accounts/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// WellKnownPath is appended to a provider's base URL to find its discovery
// document.
const WellKnownPath = "/.well-known/openid-configuration"

// maxDiscoveryBytes bounds how much of a discovery response is read.
const maxDiscoveryBytes = 1 << 20

// DiscoveryTimeout bounds a shared discovery request. The request outlives
// the caller that started it, so it can't rely on that caller's deadline.
const DiscoveryTimeout = 30 * time.Second

// DiscoveryDocument is the subset of an IdP's openid-configuration this
// package uses. Every other field of the document is kept in Extra.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`

	Extra map[string]any `json:"-"`
}

// Endpoint returns the discovered URL (or path) of which.
func (d *DiscoveryDocument) Endpoint(which Endpoint) string {
	if d == nil {
		return ""
	}
	switch which {
	case EndpointAuthorization:
		return d.AuthorizationEndpoint
	case EndpointToken:
		return d.TokenEndpoint
	case EndpointUserinfo:
		return d.UserinfoEndpoint
	default:
		return ""
	}
}

func parseDiscoveryDocument(body []byte) (*DiscoveryDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("body is a JSON null")
	}
	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unexpected field type: %w", err)
	}
	doc.Extra = raw
	return &doc, nil
}

// WellKnownCache fetches and memoizes discovery documents keyed by the exact
// base URL string. Failed fetches are not cached, so a later call may
// succeed once the IdP recovers. Concurrent first lookups of the same base URL
// share a single request.
//
// A WellKnownCache is concurrently safe. Entries never expire; see Forget.
type WellKnownCache struct {
	mu     sync.RWMutex
	docs   map[string]*DiscoveryDocument
	group  singleflight.Group
	client *http.Client
	logger hclog.Logger
}

// NewWellKnownCache creates an empty cache.
//
// Supported options:
//   - WithLogger
//   - WithHTTPClient: the client used when a request's context doesn't carry
//     one (see HttpClientContext)
func NewWellKnownCache(opt ...Option) *WellKnownCache {
	opts := getWellKnownOpts(opt...)
	return &WellKnownCache{
		docs:   map[string]*DiscoveryDocument{},
		client: opts.withHTTPClient,
		logger: opts.withLogger,
	}
}

// Resolve returns the discovery document found at
// ${baseURL}/.well-known/openid-configuration, fetching it on first use.
func (c *WellKnownCache) Resolve(ctx context.Context, baseURL string) (*DiscoveryDocument, error) {
	const op = "WellKnownCache.Resolve"
	if c == nil {
		return nil, fmt.Errorf("%s: cache is nil: %w", op, ErrNilParameter)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url is not set; unable to discover endpoints: %w", op, ErrConfig)
	}
	c.mu.RLock()
	doc, ok := c.docs[baseURL]
	c.mu.RUnlock()
	if ok {
		c.logger.Trace("discovery cache hit", "base_url", baseURL)
		return doc, nil
	}

	// Callers with different http clients (e.g. a pinned ProviderCA) don't
	// share a request.
	client := httpClientFromContext(ctx, c.client)
	flightKey := fmt.Sprintf("%s|%p", baseURL, client)
	flightCtx := HttpClientContext(context.WithoutCancel(ctx), client)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		// another flight may have finished between the read above and now
		c.mu.RLock()
		doc, ok := c.docs[baseURL]
		c.mu.RUnlock()
		if ok {
			return doc, nil
		}
		fetchCtx, cancel := context.WithTimeout(flightCtx, DiscoveryTimeout)
		defer cancel()
		doc, err := c.fetch(fetchCtx, baseURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.docs[baseURL] = doc
		c.mu.Unlock()
		return doc, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, ctx.Err())
	case res = <-ch:
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		c.logger.Warn("discovery failed", "base_url", baseURL, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("discovery document cached", "base_url", baseURL, "shared", shared)
	return v.(*DiscoveryDocument), nil
}

// Forget evicts the document cached for baseURL, if any.
func (c *WellKnownCache) Forget(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, baseURL)
}

// Len returns the number of cached documents.
func (c *WellKnownCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *WellKnownCache) fetch(ctx context.Context, baseURL string) (*DiscoveryDocument, error) {
	wellKnown := strutils.JoinPath(baseURL, WellKnownPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request for %s: %w: %w", wellKnown, ErrDiscovery, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClientFromContext(ctx, c.client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch %s: %w: %w", wellKnown, ErrDiscovery, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBytes))
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w: %w", wellKnown, ErrDiscovery, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s: %w", wellKnown, resp.Status, ErrDiscovery)
	}
	doc, err := parseDiscoveryDocument(body)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w: %w", wellKnown, ErrDiscovery, err)
	}
	return doc, nil
}

// httpClientFromContext returns the client carried by ctx (see
// HttpClientContext), else fallback, else http.DefaultClient.
func httpClientFromContext(ctx context.Context, fallback *http.Client) *http.Client {
	if ctx != nil {
		if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
			return c
		}
	}
	if fallback != nil {
		return fallback
	}
	return http.DefaultClient
}

// wellKnownOptions is the set of available options for WellKnownCache
type wellKnownOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
}

func wellKnownDefaults() wellKnownOptions {
	return wellKnownOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getWellKnownOpts(opt ...Option) wellKnownOptions {
	opts := wellKnownDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
