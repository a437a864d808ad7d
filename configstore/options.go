// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package configstore

import (
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/go-hclog"
)

// options is the set of available options.
type options struct {
	withKey       string
	withEnvPrefix string
	withLogger    hclog.Logger
}

// getDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func getDefaults() options {
	return options{
		withKey:       DefaultKey,
		withEnvPrefix: DefaultEnvPrefix,
		withLogger:    hclog.NewNullLogger(),
	}
}

// getOpts gets the defaults and applies the opt overrides passed
// in.
func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// WithKey provides the settings key holding the providers (default:
// services).
//
// Valid for: New and Load
func WithKey(k string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKey = k
		}
	}
}

// WithEnvPrefix provides the prefix of environment overrides (default:
// ACCOUNTS).
//
// Valid for: Load
func WithEnvPrefix(p string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvPrefix = p
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: New and Load
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogger = l
		}
	}
}
