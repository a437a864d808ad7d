// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/cap-accounts/oidc/internal/strutils"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// reservedParameters are always set by AuthURL; caller supplied values for
// them are dropped.
var reservedParameters = []string{"response_type", "client_id", "scope", "redirect_uri", "state"}

// AuthRequest carries the per-attempt inputs of an authorization request.
type AuthRequest struct {
	// RedirectURI is the fixed per-slug callback (see RedirectURI).
	RedirectURI string

	// State is the encoded LoginState.
	State string

	// Scopes overrides the configured scopes when not empty.
	Scopes []string

	// Parameters are extra query parameters applied after the configured
	// LoginURLParameters. Empty values and values for the fixed parameters
	// are dropped.
	Parameters map[string]string
}

// AuthURL composes the authorization endpoint URL for c and req.
//
// The query starts from c.LoginURLParameters, then req.Parameters, and then
// response_type=code, client_id, scope (joined with single spaces),
// redirect_uri and state are set. Parameters with empty values are omitted.
// Every parameter is query-encoded exactly once.
func AuthURL(ctx context.Context, r *EndpointResolver, c *ProviderConfig, req *AuthRequest) (string, error) {
	const op = "oidc.AuthURL"
	switch {
	case r == nil:
		return "", fmt.Errorf("%s: endpoint resolver is nil: %w", op, ErrNilParameter)
	case c == nil:
		return "", fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	case req == nil:
		return "", fmt.Errorf("%s: auth request is nil: %w", op, ErrNilParameter)
	case c.ClientID == "":
		return "", fmt.Errorf("%s: client id is empty: %w", op, ErrConfig)
	case req.RedirectURI == "":
		return "", fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	case req.State == "":
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	authEndpoint, err := r.Resolve(ctx, c, EndpointAuthorization)
	if err != nil {
		return "", fmt.Errorf("%s: unable to resolve authorization endpoint: %w", op, err)
	}

	scopes := Scope(strutils.RemoveDuplicatesStable(req.Scopes, false))
	if len(scopes) == 0 {
		scopes = c.Scopes()
	}
	oauth2Config := oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: req.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: authEndpoint},
		Scopes:      scopes,
	}

	params := map[string]string{}
	for k, v := range c.LoginURLParameters {
		params[k] = v
	}
	for k, v := range req.Parameters {
		params[k] = v
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	authCodeOpts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		if k == "" || params[k] == "" || strutils.StrListContains(reservedParameters, k) {
			continue
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, params[k]))
	}
	return oauth2Config.AuthCodeURL(req.State, authCodeOpts...), nil
}

// loginOptions is the set of available options for a single login
type loginOptions struct {
	withScopes             []string
	withLoginURLParameters map[string]string
	withPopupOptions       map[string]any
	withLoginStyle         LoginStyle
	withUILocales          []language.Tag
	withPrompts            []Prompt
	withLoginHint          string
}

func loginDefaults() loginOptions {
	return loginOptions{}
}

func getLoginOpts(opt ...Option) loginOptions {
	opts := loginDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// parameters returns the extra authorization parameters the options ask for.
func (o loginOptions) parameters() map[string]string {
	params := make(map[string]string, len(o.withLoginURLParameters)+3)
	for k, v := range o.withLoginURLParameters {
		params[k] = v
	}
	if len(o.withUILocales) > 0 {
		locales := make([]string, 0, len(o.withUILocales))
		for _, l := range o.withUILocales {
			locales = append(locales, l.String())
		}
		params["ui_locales"] = strings.Join(locales, " ")
	}
	if len(o.withPrompts) > 0 {
		prompts := make([]string, 0, len(o.withPrompts))
		for _, p := range o.withPrompts {
			prompts = append(prompts, string(p))
		}
		params["prompt"] = strings.Join(strutils.RemoveDuplicatesStable(prompts, false), " ")
	}
	if o.withLoginHint != "" {
		params["login_hint"] = o.withLoginHint
	}
	return params
}

// WithScopes overrides the configured scopes for one login.
//
// Valid for: Client.Login and Client.NewAttempt
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithLoginURLParameters adds IdP specific parameters to one login's
// authorization request.
//
// Valid for: Client.Login and Client.NewAttempt
func WithLoginURLParameters(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withLoginURLParameters = params
		}
	}
}

// WithPopupOptions overrides the configured popup options for one login.
//
// Valid for: Client.Login and Client.NewAttempt
func WithPopupOptions(popup map[string]any) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withPopupOptions = popup
		}
	}
}

// WithLoginStyle overrides the configured login style for one login.
//
// Valid for: Client.Login and Client.NewAttempt
func WithLoginStyle(s LoginStyle) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withLoginStyle = s
		}
	}
}

// WithUILocales sets the end-user's preferred languages for the IdP's user
// interface, most preferred first (the "ui_locales" parameter).
//
// Valid for: Client.Login and Client.NewAttempt
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withUILocales = locales
		}
	}
}

// Prompt asks the IdP to (re)authenticate or (re)consent the end-user.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// WithPrompts sets the "prompt" parameter.
//
// Valid for: Client.Login and Client.NewAttempt
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithLoginHint sets the "login_hint" parameter.
//
// Valid for: Client.Login and Client.NewAttempt
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withLoginHint = hint
		}
	}
}
