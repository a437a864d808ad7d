// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/go-hclog"
)

const (
	// SlugParam is the name of the route parameter holding the provider's slug.
	SlugParam = "slug"

	// MountPath is where the router of Routes is meant to be mounted.
	MountPath = "/_oauth"
)

// AuthCode creates an oidc authorization code callback handler for s. The
// handler reads "code" and "state" from either the query or a form body.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
//
// Supported options:
//   - WithLogger
func AuthCode(s *oidc.Server, sFn SuccessResponseFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: server is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return func(w http.ResponseWriter, req *http.Request) {
		handle(s, sFn, eFn, opts.withLogger, w, req)
	}, nil
}

// Routes creates a router serving the callback of every Server of reg at
// /{slug}, for both GET and POST (form_post) responses. It's meant to be
// mounted at MountPath, so the callbacks are served at /_oauth/{slug}:
//
//	r.Mount(callback.MountPath, callbacks)
//
// A slug which isn't registered is answered through eFn with an error
// matching oidc.ErrNotFound.
//
// Supported options:
//   - WithLogger
func Routes(reg *oidc.Registry[*oidc.Server], sFn SuccessResponseFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (chi.Router, error) {
	const op = "callback.Routes"
	switch {
	case reg == nil:
		return nil, fmt.Errorf("%s: registry is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)

	h := func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.Routes"
		slug := chi.URLParam(req, SlugParam)
		s, err := reg.Get(slug)
		if err != nil {
			opts.withLogger.Debug("callback for unknown provider", "slug", slug)
			eFn(req.FormValue("state"), nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		handle(s, sFn, eFn, opts.withLogger, w, req)
	}
	r := chi.NewRouter()
	pattern := "/{" + SlugParam + "}"
	r.Get(pattern, h)
	r.Post(pattern, h)
	return r, nil
}

func handle(s *oidc.Server, sFn SuccessResponseFunc, eFn ErrorResponseFunc, logger hclog.Logger, w http.ResponseWriter, req *http.Request) {
	const op = "callback.handle"
	logger = logger.With("slug", s.Slug())

	// get parameters from either the body or query parameters.
	// FormValue prioritizes body values, if found
	reqState := req.FormValue("state")

	if errCode := req.FormValue("error"); errCode != "" {
		reqError := &AuthenErrorResponse{
			Error:       errCode,
			Description: req.FormValue("error_description"),
			Uri:         req.FormValue("error_uri"),
		}
		logger.Debug("authentication error response", "error", errCode)
		eFn(reqState, reqError, nil, w, req)
		return
	}

	reqCode := req.FormValue("code")
	if reqCode == "" {
		eFn(reqState, nil, fmt.Errorf("%s: missing code parameter: %w", op, oidc.ErrInvalidParameter), w, req)
		return
	}

	result, err := s.HandleCallback(req.Context(), &oidc.CallbackParams{Code: reqCode, State: reqState})
	if err != nil {
		logger.Warn("login failed", "error", err)
		eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
		return
	}
	sFn(result.State, result, w, req)
}

// options is the set of available options for the callbacks.
type options struct {
	withLogger hclog.Logger
}

func getDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// WithLogger provides an optional logger for the callbacks.
//
// Valid for: AuthCode and Routes
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogger = l
		}
	}
}
