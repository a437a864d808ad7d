// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

// Option configures the JWT
type Option func(*JWT)

// WithKeyID sets the "kid" header that OIDC providers use to look up the
// public key to check the signed JWT
func WithKeyID(keyID string) Option {
	return func(j *JWT) {
		if keyID != "" {
			j.headers["kid"] = keyID
		}
	}
}

// WithHeaders sets extra JWT headers
func WithHeaders(h map[string]string) Option {
	return func(j *JWT) {
		for k, v := range h {
			j.headers[k] = v
		}
	}
}
