// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc
or a chi.Router) for handling OIDC provider responses to authorization code
flow login attempts, at <root url>/_oauth/<slug>.
*/
package callback
