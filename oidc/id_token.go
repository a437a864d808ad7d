// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodedJWT is a JWT split into its three parts. Payload is also called the
// token's claims.
type DecodedJWT struct {
	Header  map[string]any
	Payload map[string]any

	// Signature is the third segment as-is. It is never verified.
	Signature string
}

// DecodeJWT decodes the header and payload of a compact JWT without checking
// its signature.
//
// That's only acceptable for an id_token received directly from the IdP's
// token endpoint over TLS; never use it on a token relayed by a browser.
func DecodeJWT(token string) (*DecodedJWT, error) {
	const op = "oidc.DecodeJWT"
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s: token has %d segments instead of 3: %w", op, len(parts), ErrMalformedToken)
	}
	header, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w: %w", op, ErrMalformedToken, err)
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%s: payload: %w: %w", op, ErrMalformedToken, err)
	}
	return &DecodedJWT{
		Header:    header,
		Payload:   payload,
		Signature: parts[2],
	}, nil
}

// decodeSegment maps the base64url alphabet onto standard base64, pads to a
// multiple of 4 and decodes a JSON object.
func decodeSegment(seg string) (map[string]any, error) {
	std := strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if rem := len(std) % 4; rem != 0 {
		std += strings.Repeat("=", 4-rem)
	}
	b, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("segment is not base64url: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("segment is not JSON: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("segment is not a JSON object")
	}
	return m, nil
}
