// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/cap-accounts/oidc/callback"
	"github.com/hashicorp/go-hclog"
)

// LoginHandler starts a login with the provider named by the {slug} route
// parameter. The login style may be chosen with the "style" query parameter
// (popup or redirect).
func LoginHandler(clients *oidc.Registry[*oidc.Client], lc *loginCache, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		c, err := clients.Get(slug)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		var opts []oidc.Option
		if style := r.URL.Query().Get("style"); style != "" {
			opts = append(opts, oidc.WithLoginStyle(oidc.LoginStyle(style)))
		}
		if hint := r.URL.Query().Get("login_hint"); hint != "" {
			opts = append(opts, oidc.WithLoginHint(hint))
		}
		attempt, err := c.NewAttempt(r.Context(), opts...)
		if err != nil {
			logger.Error("unable to start login", "slug", slug, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		lc.Add(attempt, slug)
		http.Redirect(w, r, attempt.LoginURL, http.StatusFound)
	}
}

// SuccessHandler records the login's result for its credential token, then
// hands the response to next.
func SuccessHandler(lc *loginCache, next callback.SuccessResponseFunc) callback.SuccessResponseFunc {
	return func(state *oidc.LoginState, result *oidc.LoginResult, w http.ResponseWriter, req *http.Request) {
		if err := lc.SetResult(state.CredentialToken, result); err != nil {
			callback.JSONErrorResponse(req.FormValue("state"), nil, err, w, req)
			return
		}
		next(state, result, w, req)
	}
}

type loginResponse struct {
	UserID      string                `json:"userId"`
	Service     string                `json:"service"`
	ServiceData *oidc.UserServiceData `json:"serviceData"`
}

// ResultHandler returns the outcome of a completed login, once.
func ResultHandler(lc *loginCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := lc.Take(chi.URLParam(r, "credentialToken"))
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, &callback.AuthenErrorResponse{Error: "not-found", Description: err.Error()})
			return
		}
		render.JSON(w, r, &loginResponse{
			UserID:      p.result.UserID,
			Service:     p.service,
			ServiceData: p.result.ServiceData,
		})
	}
}
