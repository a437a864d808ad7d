// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with a private key or a client secret
// for use as the client_assertion of a token request, A.K.A. private_key_jwt
// and client_secret_jwt. reference: https://oauth.net/private-key-jwt/
//
// Example usage:
//
//	j, err := clientassertion.NewJWTWithRSAKey("client-id", []string{"https://idp/token"},
//		clientassertion.RS256, rsaPrivateKey,
//		clientassertion.WithKeyID("jwks-key-id-or-x5t-etc"),
//	)
//	jwtString, err := j.Serialize()
package clientassertion
