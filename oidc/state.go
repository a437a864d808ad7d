// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// LoginState is what the "state" parameter binds together for one login
// attempt. It round-trips through the IdP and comes back to the callback
// endpoint.
type LoginState struct {
	// LoginStyle tells the callback page whether to signal a popup opener
	// or to navigate.
	LoginStyle LoginStyle `json:"loginStyle"`

	// CredentialToken is the per-attempt secret correlating the callback
	// with the pending login.
	CredentialToken string `json:"credentialToken"`

	// IsCordova is kept for wire compatibility and is always false here.
	IsCordova bool `json:"isCordova"`

	// RedirectURL is where the browser lands at the end of a redirect style
	// login: the application root, not the per-slug callback. It's unused
	// for popup logins.
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Validate the login state.
func (s *LoginState) Validate() error {
	const op = "LoginState.Validate"
	switch {
	case s == nil:
		return fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	case !s.LoginStyle.Valid():
		return fmt.Errorf("%s: login style %q is unknown: %w", op, s.LoginStyle, ErrInvalidState)
	case s.CredentialToken == "":
		return fmt.Errorf("%s: credential token is empty: %w", op, ErrInvalidState)
	case s.LoginStyle == RedirectStyle && s.RedirectURL == "":
		return fmt.Errorf("%s: redirect url is empty for a redirect login: %w", op, ErrInvalidState)
	}
	return nil
}

// StateCodec encodes a LoginState into the opaque "state" parameter and
// back. Implementations must be concurrently safe.
type StateCodec interface {
	Encode(s *LoginState) (string, error)
	Decode(state string) (*LoginState, error)
}

// Base64JSONStateCodec is the default StateCodec. The state is the standard
// base64 encoding of the JSON object
// {"loginStyle","credentialToken","isCordova","redirectUrl"}; redirectUrl is
// only present for redirect style logins.
type Base64JSONStateCodec struct{}

var _ StateCodec = Base64JSONStateCodec{}

// Encode implements StateCodec.
func (Base64JSONStateCodec) Encode(s *LoginState) (string, error) {
	const op = "Base64JSONStateCodec.Encode"
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	cp := *s
	if cp.LoginStyle != RedirectStyle {
		cp.RedirectURL = ""
	}
	b, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal state: %w", op, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode implements StateCodec.
func (Base64JSONStateCodec) Decode(state string) (*LoginState, error) {
	const op = "Base64JSONStateCodec.Decode"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidState)
	}
	b, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("%s: state is not base64: %w: %w", op, ErrInvalidState, err)
	}
	var s LoginState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: state is not JSON: %w: %w", op, ErrInvalidState, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &s, nil
}
