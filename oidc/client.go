// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultAttemptTimeout bounds a pending login attempt unless
// WithAttemptTimeout says otherwise.
const DefaultAttemptTimeout = 10 * time.Minute

// LoginAttempt is one in-flight login. It's transient and never persisted.
type LoginAttempt struct {
	// CredentialToken is the fresh secret correlating this attempt with its
	// callback.
	CredentialToken string

	LoginStyle LoginStyle

	// RedirectURI is the provider's fixed callback URL.
	RedirectURI string

	// State is the encoded LoginState sent to the IdP.
	State string

	// LoginURL is the complete authorization request URL.
	LoginURL string

	PopupOptions map[string]any

	// Expiration is when the attempt stops being awaited.
	Expiration time.Time
}

// IsExpired reports whether the attempt is past its expiration.
func (a *LoginAttempt) IsExpired() bool {
	return !a.Expiration.IsZero() && time.Now().After(a.Expiration)
}

// LaunchRequest is what a BrowserTransport needs to run a login.
type LaunchRequest struct {
	Service         string
	LoginURL        string
	LoginStyle      LoginStyle
	CredentialToken string
	PopupOptions    map[string]any
}

// BrowserTransport opens the login URL in a popup or redirects the page to
// it, and waits for the callback keyed by the request's credential token. It
// returns the short-lived login token the callback produced, or the error it
// reported. Launch must give up when ctx is done.
type BrowserTransport interface {
	Launch(ctx context.Context, req *LaunchRequest) (loginToken string, err error)
}

// LoginCompleter finishes a login with the token returned by the
// BrowserTransport, e.g. by exchanging it for a session.
type LoginCompleter interface {
	CompleteLogin(ctx context.Context, service, loginToken string) error
}

// Client is the client side facade of one provider (slug).
//
// A Client is concurrently safe; every Login is an independent attempt.
type Client struct {
	slug           string
	store          ConfigStore
	resolver       *EndpointResolver
	codec          StateCodec
	transport      BrowserTransport
	completer      LoginCompleter
	rootURL        string
	attemptTimeout time.Duration
	client         *http.Client
	clients        httpClientCache
	logger         hclog.Logger
}

// NewClient creates the client facade of slug. Use a registry (see
// NewClientRegistry) rather than calling it directly, so slugs stay unique.
//
// Supported options:
//   - WithRootURL (required)
//   - WithBrowserTransport (required by Login)
//   - WithLoginCompleter
//   - WithAttemptTimeout
//   - WithWellKnownCache
//   - WithStateCodec
//   - WithHTTPClient
//   - WithLogger
func NewClient(slug string, store ConfigStore, opt ...Option) (*Client, error) {
	const op = "oidc.NewClient"
	if err := validateSlug(slug); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: config store is nil: %w", op, ErrNilParameter)
	}
	opts := getClientOpts(opt...)
	if opts.withRootURL == "" {
		return nil, fmt.Errorf("%s: root url is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateHTTPURL(opts.withRootURL); err != nil {
		return nil, fmt.Errorf("%s: root url: %w: %w", op, ErrInvalidParameter, err)
	}
	if opts.withAttemptTimeout <= 0 {
		return nil, fmt.Errorf("%s: attempt timeout must be greater than zero: %w", op, ErrInvalidParameter)
	}
	return &Client{
		slug:           slug,
		store:          store,
		resolver:       NewEndpointResolver(opts.withCache),
		codec:          opts.withCodec,
		transport:      opts.withTransport,
		completer:      opts.withCompleter,
		rootURL:        opts.withRootURL,
		attemptTimeout: opts.withAttemptTimeout,
		client:         opts.withHTTPClient,
		logger:         opts.withLogger.With("slug", slug),
	}, nil
}

// Slug returns the provider's slug.
func (c *Client) Slug() string { return c.slug }

// RedirectURI returns the fixed callback URL of the provider.
func (c *Client) RedirectURI() string { return RedirectURI(c.rootURL, c.slug) }

// NewAttempt prepares a login: it picks the login style (option, then
// configuration, then popup), generates a credential token, encodes the
// state and builds the authorization URL. Hosts that drive the browser
// themselves (e.g. a server side redirect) can use the attempt directly.
//
// Supported options:
//   - WithScopes
//   - WithLoginURLParameters
//   - WithLoginStyle
//   - WithPopupOptions
//   - WithUILocales
//   - WithPrompts
//   - WithLoginHint
func (c *Client) NewAttempt(ctx context.Context, opt ...Option) (*LoginAttempt, error) {
	const op = "Client.NewAttempt"
	opts := getLoginOpts(opt...)
	cfg, err := c.store.Config(ctx, c.slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	style := cfg.Style()
	if opts.withLoginStyle != "" {
		style = opts.withLoginStyle
	}
	if !style.Valid() {
		return nil, fmt.Errorf("%s: login style %q is unknown: %w", op, style, ErrInvalidParameter)
	}
	credentialToken, err := NewCredentialToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	state, err := c.codec.Encode(&LoginState{
		LoginStyle:      style,
		CredentialToken: credentialToken,
		RedirectURL:     AppURL(c.rootURL),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	httpClient := c.client
	if httpClient == nil {
		if httpClient, err = c.clients.get(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	redirectURI := c.RedirectURI()
	loginURL, err := AuthURL(HttpClientContext(ctx, httpClient), c.resolver, cfg, &AuthRequest{
		RedirectURI: redirectURI,
		State:       state,
		Scopes:      opts.withScopes,
		Parameters:  opts.parameters(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	popup := cfg.PopupOptions
	if opts.withPopupOptions != nil {
		popup = opts.withPopupOptions
	}
	return &LoginAttempt{
		CredentialToken: credentialToken,
		LoginStyle:      style,
		RedirectURI:     redirectURI,
		State:           state,
		LoginURL:        loginURL,
		PopupOptions:    popup,
		Expiration:      time.Now().Add(c.attemptTimeout),
	}, nil
}

// Login runs a complete login attempt: it prepares the attempt, hands it to
// the BrowserTransport and, once the transport returns a login token, to the
// LoginCompleter (if any).
//
// The attempt is abandoned with ErrAttemptExpired when it stays pending for
// longer than the attempt timeout. An error reported by the transport or
// the completer is returned as-is (wrapped).
//
// See NewAttempt for the supported options.
func (c *Client) Login(ctx context.Context, opt ...Option) error {
	const op = "Client.Login"
	if c.transport == nil {
		return fmt.Errorf("%s: browser transport is nil: %w", op, ErrNilParameter)
	}
	attempt, err := c.NewAttempt(ctx, opt...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	attemptCtx, cancel := context.WithDeadline(ctx, attempt.Expiration)
	defer cancel()

	c.logger.Debug("launching login", "login_style", attempt.LoginStyle)
	loginToken, err := c.transport.Launch(attemptCtx, &LaunchRequest{
		Service:         c.slug,
		LoginURL:        attempt.LoginURL,
		LoginStyle:      attempt.LoginStyle,
		CredentialToken: attempt.CredentialToken,
		PopupOptions:    attempt.PopupOptions,
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn("login attempt expired")
			return fmt.Errorf("%s: %w", op, ErrAttemptExpired)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.completer == nil {
		return nil
	}
	if err := c.completer.CompleteLogin(attemptCtx, c.slug, loginToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// clientOptions is the set of available options for Client
type clientOptions struct {
	withRootURL        string
	withTransport      BrowserTransport
	withCompleter      LoginCompleter
	withAttemptTimeout time.Duration
	withCache          *WellKnownCache
	withCodec          StateCodec
	withHTTPClient     *http.Client
	withLogger         hclog.Logger
}

func clientDefaults() clientOptions {
	return clientOptions{
		withAttemptTimeout: DefaultAttemptTimeout,
		withCodec:          Base64JSONStateCodec{},
		withLogger:         hclog.NewNullLogger(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withCodec == nil {
		opts.withCodec = Base64JSONStateCodec{}
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// WithBrowserTransport provides the browser side of logins.
//
// Valid for: Client
func WithBrowserTransport(t BrowserTransport) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withTransport = t
		}
	}
}

// WithLoginCompleter provides what finishes a login once the browser
// transport returns.
//
// Valid for: Client
func WithLoginCompleter(lc LoginCompleter) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withCompleter = lc
		}
	}
}
