// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/cap-accounts/oidc/clientassertion"
	"golang.org/x/oauth2"
)

// IDToken is an oidc id_token.
// See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Decode the token without verifying its signature. See DecodeJWT.
func (t IDToken) Decode() (*DecodedJWT, error) {
	return DecodeJWT(string(t))
}

// AccessToken is an oauth access_token. Its content is opaque: some IdPs use a
// JWT, others don't.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// TokenResponse holds the tokens returned by the token endpoint. It's never
// persisted.
type TokenResponse struct {
	IDToken     IDToken
	AccessToken AccessToken
}

// Exchange trades an authorization code for tokens at the token endpoint of
// c. The form body carries grant_type=authorization_code, code, client_id,
// redirect_uri and, only when configured, client_secret. redirectURI must be
// the one sent in the authorization request. With the ClientSecretJWT or
// PrivateKeyJWT auth methods, a client_assertion replaces client_secret.
//
// An unsuccessful response is returned as a *ProtocolError whose Detail is the
// response body verbatim. A response missing id_token or access_token is an
// ErrProtocol. Nothing is retried: authorization codes are single use.
func Exchange(ctx context.Context, r *EndpointResolver, c *ProviderConfig, redirectURI, code string) (*TokenResponse, error) {
	const op = "oidc.Exchange"
	switch {
	case r == nil:
		return nil, fmt.Errorf("%s: endpoint resolver is nil: %w", op, ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	case code == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	case redirectURI == "":
		return nil, fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	}
	tokenEndpoint, err := r.Resolve(ctx, c, EndpointToken)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to resolve token endpoint: %w", op, err)
	}

	clientSecret, authParams, err := clientAuth(c, tokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	// oauth2 picks up the http client carried by ctx, if any
	oauth2Token, err := oauth2Config.Exchange(ctx, code, authParams...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		var urlErr *url.Error
		switch {
		case errors.As(err, &retrieveErr):
			pErr := &ProtocolError{Op: op, Detail: string(retrieveErr.Body)}
			if retrieveErr.Response != nil {
				pErr.StatusCode = retrieveErr.Response.StatusCode
			}
			return nil, pErr
		case errors.As(err, &urlErr):
			return nil, fmt.Errorf("%s: unable to reach token endpoint: %w", op, err)
		default:
			return nil, fmt.Errorf("%s: unable to exchange authorization code: %w: %w", op, ErrProtocol, err)
		}
	}
	if oauth2Token.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProtocol, ErrMissingAccessToken)
	}
	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrProtocol, ErrMissingIDToken)
	}
	return &TokenResponse{
		IDToken:     IDToken(idToken),
		AccessToken: AccessToken(oauth2Token.AccessToken),
	}, nil
}

// clientAuth returns the client secret to send in the form body and the
// extra parameters authenticating the client, per c's TokenAuthMethod.
func clientAuth(c *ProviderConfig, tokenEndpoint string) (string, []oauth2.AuthCodeOption, error) {
	const op = "oidc.clientAuth"
	var (
		j   *clientassertion.JWT
		err error
	)
	audience := []string{tokenEndpoint}
	switch c.Secret.Method() {
	case ClientSecretPost:
		return c.ClientSecretValue(), nil, nil
	case ClientSecretJWT:
		alg := clientassertion.HS256
		if c.Secret.AssertionAlg != "" {
			alg = clientassertion.HSAlgorithm(c.Secret.AssertionAlg)
		}
		j, err = clientassertion.NewJWTWithHMAC(c.ClientID, audience, alg, c.ClientSecretValue(),
			clientassertion.WithKeyID(c.Secret.AssertionKeyID))
	case PrivateKeyJWT:
		alg := clientassertion.RS256
		if c.Secret.AssertionAlg != "" {
			alg = clientassertion.RSAlgorithm(c.Secret.AssertionAlg)
		}
		key, perr := clientassertion.ParseRSAKeyPEM(string(c.Secret.AssertionKey))
		if perr != nil {
			return "", nil, fmt.Errorf("%s: %w: %w", op, ErrConfig, perr)
		}
		j, err = clientassertion.NewJWTWithRSAKey(c.ClientID, audience, alg, key,
			clientassertion.WithKeyID(c.Secret.AssertionKeyID))
	default:
		return "", nil, fmt.Errorf("%s: token auth method %q is not supported: %w", op, c.Secret.AuthMethod, ErrConfig)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w: %w", op, ErrConfig, err)
	}
	assertion, err := j.Serialize()
	if err != nil {
		return "", nil, fmt.Errorf("%s: unable to sign client assertion: %w", op, err)
	}
	return "", []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("client_assertion_type", clientassertion.JWTTypeParam),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	}, nil
}
