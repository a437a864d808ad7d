// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger.
//
// Valid for: WellKnownCache, Server, Client and the registries.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *wellKnownOptions:
			v.withLogger = l
		case *serverOptions:
			v.withLogger = l
		case *clientOptions:
			v.withLogger = l
		case *registryOptions:
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an http client to use for every request to the IdP,
// instead of the one built from the provider's configuration (see
// ProviderConfig.HTTPClient).
//
// Valid for: WellKnownCache, Server and Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *wellKnownOptions:
			v.withHTTPClient = c
		case *serverOptions:
			v.withHTTPClient = c
		case *clientOptions:
			v.withHTTPClient = c
		}
	}
}

// WithRootURL provides the application root URL. It's used to derive the
// fixed redirect URI (<root>/_oauth/<slug>) and the final redirect target of
// "redirect" style logins.
//
// Valid for: Server and Client.
func WithRootURL(u string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *serverOptions:
			v.withRootURL = u
		case *clientOptions:
			v.withRootURL = u
		}
	}
}

// WithWellKnownCache provides the discovery cache to share between providers.
//
// Valid for: Server, Client and the registries.
func WithWellKnownCache(c *WellKnownCache) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *serverOptions:
			v.withCache = c
		case *clientOptions:
			v.withCache = c
		case *registryOptions:
			v.withCache = c
		}
	}
}

// WithStateCodec provides the codec for the "state" parameter.
//
// Valid for: Server and Client.
func WithStateCodec(c StateCodec) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *serverOptions:
			v.withCodec = c
		case *clientOptions:
			v.withCodec = c
		}
	}
}

// WithAttemptTimeout bounds how long a login attempt may stay pending.
//
// Valid for: Client.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withAttemptTimeout = d
		}
	}
}
