// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for logging users into an application with any number of
OIDC identity providers (IdPs), using the authorization code flow.

Every configured IdP is known by its slug (e.g. "oidc", "acme"). The slug
selects the provider's configuration and fixes its callback URL:
<root url>/_oauth/<slug>.

Primary types provided by the package

* ProviderConfig: the per-slug configuration (client id and secret, scopes,
login style, extra authorization parameters, base url or explicit endpoints).
It's supplied by a ConfigStore.

* WellKnownCache: fetches and memoizes discovery documents
(<base url>/.well-known/openid-configuration), one request per base url.

* EndpointResolver: resolves the authorization, token and userinfo
endpoints; an explicitly configured endpoint always wins over discovery.

* Client: the login side of a provider. It builds the authorization URL and
the "state" of a login attempt, and hands it to a BrowserTransport which runs
the popup or redirect.

* Server: the callback side of a provider. It exchanges the authorization
code for tokens, decodes the id_token claims, fetches the userinfo document
and projects them into UserServiceData and a new user Profile, via a
Projector.

* Registry: holds the Clients or Servers of a process, keyed by slug.

The oidc/callback package

The callback package includes the ability to create a http.HandlerFunc which
serves <root url>/_oauth/<slug> for every Server of a Registry.

The id_token is decoded without verifying its signature: it's received
directly from the IdP's token endpoint over TLS and never relayed by a
browser.

Examples

* accounts: oidc/examples/accounts/
*/
package oidc
