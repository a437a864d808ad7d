// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/cap-accounts/sdk/id"
)

// DefaultIDLength is the length of the random part of an id from NewID.
const DefaultIDLength = id.DefaultLength

// NewID generates an ID with an optional prefix.
//
// Supported options:
//   - WithPrefix
func NewID(opt ...Option) (string, error) {
	const op = "oidc.NewID"
	opts := getIDOpts(opt...)
	v, err := id.New(opts.withPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return v, nil
}

// NewCredentialToken returns a fresh, unguessable secret which correlates one
// login attempt with its asynchronous callback.
func NewCredentialToken() (string, error) {
	const op = "oidc.NewCredentialToken"
	v, err := id.Secret(id.DefaultSecretBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return v, nil
}

// idOptions is the set of available options.
type idOptions struct {
	withPrefix string
}

// idDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func idDefaults() idOptions {
	return idOptions{}
}

// getIDOpts gets the defaults and applies the opt overrides passed
// in.
func getIDOpts(opt ...Option) idOptions {
	opts := idDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional prefix for a new ID.  When this options is
// provided, NewID will prepend the prefix and an underscore to the new
// identifier.
//
// Valid for: ID
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}
