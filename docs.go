// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// accounts provides a collection of related packages which log users into an
// application with any number of OIDC identity providers, each one known by
// its slug: provider configuration and discovery, the authorization request,
// the code exchange, the userinfo fetch and the projection of the identity
// into the application's user record.
//
// See oidc/docs.go
package accounts
