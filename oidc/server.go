// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// CallbackParams are the parameters the IdP sends back to the callback
// endpoint after a successful authentication.
type CallbackParams struct {
	Code  string
	State string
}

// CreateUserOptions is the context handed to the user store (and to a host
// level user creation hook) for one login.
type CreateUserOptions struct {
	// Service is the provider's slug.
	Service     string         `json:"service"`
	IDToken     IDToken        `json:"id_token"`
	AccessToken AccessToken    `json:"access_token"`
	Claims      map[string]any `json:"claims"`
	Identity    Identity       `json:"identity"`
	Profile     Profile        `json:"profile"`
}

// LoginResult is the outcome of a successful callback.
type LoginResult struct {
	// State is the decoded "state" parameter of the attempt.
	State *LoginState

	// ServiceData is stored under the provider's namespace of the user.
	ServiceData *UserServiceData

	// Profile is only used if the user doesn't exist yet.
	Profile Profile

	Options *CreateUserOptions

	// UserID is set when the server has a UserStore.
	UserID string
}

// UserStore persists users. UpdateOrCreate looks up the user whose service
// data for service has data.ID; it merges data into that user if found, or
// else creates a user from opts.Profile. It returns the user's id.
type UserStore interface {
	UpdateOrCreate(ctx context.Context, service string, data *UserServiceData, opts *CreateUserOptions) (userID string, err error)
}

// Server is the server side facade of one provider (slug). It runs the
// callback leg of the authorization code flow: token exchange, claims
// decoding, userinfo fetch and identity projection.
//
// A Server is concurrently safe.
type Server struct {
	slug      string
	store     ConfigStore
	resolver  *EndpointResolver
	codec     StateCodec
	projector Projector
	users     UserStore
	rootURL   string
	client    *http.Client
	clients   httpClientCache
	logger    hclog.Logger
}

// NewServer creates the server facade of slug. Use a registry (see
// NewServerRegistry) rather than calling it directly, so slugs stay unique.
//
// Supported options:
//   - WithRootURL (required)
//   - WithProjector
//   - WithUserStore
//   - WithWellKnownCache
//   - WithStateCodec
//   - WithHTTPClient
//   - WithLogger
func NewServer(slug string, store ConfigStore, opt ...Option) (*Server, error) {
	const op = "oidc.NewServer"
	if err := validateSlug(slug); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: config store is nil: %w", op, ErrNilParameter)
	}
	opts := getServerOpts(opt...)
	if opts.withRootURL == "" {
		return nil, fmt.Errorf("%s: root url is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateHTTPURL(opts.withRootURL); err != nil {
		return nil, fmt.Errorf("%s: root url: %w: %w", op, ErrInvalidParameter, err)
	}
	return &Server{
		slug:      slug,
		store:     store,
		resolver:  NewEndpointResolver(opts.withCache),
		codec:     opts.withCodec,
		projector: opts.withProjector,
		users:     opts.withUserStore,
		rootURL:   opts.withRootURL,
		client:    opts.withHTTPClient,
		logger:    opts.withLogger.With("slug", slug),
	}, nil
}

// Slug returns the provider's slug.
func (s *Server) Slug() string { return s.slug }

// RedirectURI returns the fixed callback URL of the provider.
func (s *Server) RedirectURI() string { return RedirectURI(s.rootURL, s.slug) }

// Config returns the provider's current configuration.
func (s *Server) Config(ctx context.Context) (*ProviderConfig, error) {
	const op = "Server.Config"
	c, err := s.store.Config(ctx, s.slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Resolver returns the endpoint resolver used by the server.
func (s *Server) Resolver() *EndpointResolver { return s.resolver }

// HandleCallback runs the callback leg for one login attempt. Any failure
// aborts the attempt; nothing is retried.
func (s *Server) HandleCallback(ctx context.Context, p *CallbackParams) (*LoginResult, error) {
	const op = "Server.HandleCallback"
	if p == nil {
		return nil, fmt.Errorf("%s: callback params are nil: %w", op, ErrNilParameter)
	}
	started := time.Now()
	state, err := s.codec.Decode(p.State)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if state.RedirectURL != "" && !IsAppURL(s.rootURL, state.RedirectURL) {
		s.logger.Warn("rejected state redirecting off the application", "redirect_url", state.RedirectURL)
		return nil, fmt.Errorf("%s: redirect url %q is not under %s: %w", op, state.RedirectURL, AppURL(s.rootURL), ErrInvalidState)
	}
	c, err := s.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, err = s.clientContext(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tk, err := Exchange(ctx, s.resolver, c, s.RedirectURI(), p.Code)
	if err != nil {
		s.logger.Warn("token exchange failed", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds := &Credentials{IDToken: tk.IDToken, AccessToken: tk.AccessToken}
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		decoded, err := tk.IDToken.Decode()
		if err != nil {
			return err
		}
		creds.Claims = decoded.Payload
		return nil
	})
	g.Go(func() error {
		identity, err := UserInfo(gCtx, s.resolver, c, tk.AccessToken)
		if err != nil {
			return err
		}
		creds.Identity = identity
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("unable to read end-user identity", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := s.projector.UserServiceData(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to project user service data: %w", op, err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profile, err := s.projector.NewUserProfile(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to project new user profile: %w", op, err)
	}

	result := &LoginResult{
		State:       state,
		ServiceData: data,
		Profile:     profile,
		Options: &CreateUserOptions{
			Service:     s.slug,
			IDToken:     creds.IDToken,
			AccessToken: creds.AccessToken,
			Claims:      creds.Claims,
			Identity:    creds.Identity,
			Profile:     profile,
		},
	}
	if s.users != nil {
		userID, err := s.users.UpdateOrCreate(ctx, s.slug, data, result.Options)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to update or create user: %w: %w", op, ErrLoginFailed, err)
		}
		result.UserID = userID
	}
	s.logger.Debug("login succeeded", "service_id", data.ID, "elapsed", time.Since(started))
	return result, nil
}

func (s *Server) clientContext(ctx context.Context, c *ProviderConfig) (context.Context, error) {
	if s.client != nil {
		return HttpClientContext(ctx, s.client), nil
	}
	client, err := s.clients.get(c)
	if err != nil {
		return nil, err
	}
	return HttpClientContext(ctx, client), nil
}

// PublishedFields returns the user record fields of service that may be
// published to the logged-in user and to every other user.
func PublishedFields(service string) (forLoggedInUser, forOtherUsers []string) {
	return []string{"services." + service}, []string{"services." + service + ".id"}
}

// serverOptions is the set of available options for Server
type serverOptions struct {
	withRootURL    string
	withProjector  Projector
	withUserStore  UserStore
	withCache      *WellKnownCache
	withCodec      StateCodec
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

func serverDefaults() serverOptions {
	return serverOptions{
		withProjector: DefaultProjector{},
		withCodec:     Base64JSONStateCodec{},
		withLogger:    hclog.NewNullLogger(),
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withProjector == nil {
		opts.withProjector = DefaultProjector{}
	}
	if opts.withCodec == nil {
		opts.withCodec = Base64JSONStateCodec{}
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// WithProjector provides the identity projection strategy of a provider.
//
// Valid for: Server
func WithProjector(p Projector) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withProjector = p
		}
	}
}

// WithUserStore provides the store receiving every successful login.
//
// Valid for: Server
func WithUserStore(u UserStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withUserStore = u
		}
	}
}
