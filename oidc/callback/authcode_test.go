// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_AuthCode(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	servers := testNewServers(t, tp)

	t.Run("invalid-parameters", func(t *testing.T) {
		tests := []struct {
			name string
			s    *oidc.Server
			sFn  SuccessResponseFunc
			eFn  ErrorResponseFunc
		}{
			{name: "missing-server", sFn: testSuccessFn, eFn: testFailFn},
			{name: "missing-success-fn", s: servers.Default(), eFn: testFailFn},
			{name: "missing-error-fn", s: servers.Default(), sFn: testSuccessFn},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				got, err := AuthCode(tt.s, tt.sFn, tt.eFn)
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
			})
		}
	})

	callback, err := AuthCode(servers.Default(), testSuccessFn, testFailFn, WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	tests := []struct {
		name       string
		params     url.Values
		post       bool
		wantStatus int
		wantBody   string
		wantErr    *AuthenErrorResponse
	}{
		{
			name:       "valid-query",
			params:     url.Values{"code": {"test-auth-code"}},
			wantStatus: http.StatusOK,
			wantBody:   "login successful: alice@example.com",
		},
		{
			name:       "valid-form-post",
			params:     url.Values{"code": {"test-auth-code"}},
			post:       true,
			wantStatus: http.StatusOK,
			wantBody:   "login successful: alice@example.com",
		},
		{
			name: "idp-error-response",
			params: url.Values{
				"error":             {"access_denied"},
				"error_description": {"user declined"},
				"error_uri":         {"https://idp/errors"},
			},
			wantStatus: http.StatusUnauthorized,
			wantErr:    &AuthenErrorResponse{Error: "access_denied", Description: "user declined", Uri: "https://idp/errors"},
		},
		{
			name:       "missing-code",
			params:     url.Values{},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "missing code parameter",
		},
		{
			name:       "bad-code",
			params:     url.Values{"code": {"bad-code"}},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "invalid_grant",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			state, _ := testState(t, oidc.PopupStyle)
			params := url.Values{"state": {state}}
			for k, v := range tt.params {
				params[k] = v
			}

			var req *http.Request
			if tt.post {
				req = httptest.NewRequest(http.MethodPost, "/_oauth/oidc", strings.NewReader(params.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = httptest.NewRequest(http.MethodGet, "/_oauth/oidc?"+params.Encode(), nil)
			}
			w := httptest.NewRecorder()
			callback(w, req)

			assert.Equal(tt.wantStatus, w.Code)
			if tt.wantErr != nil {
				var got AuthenErrorResponse
				require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(*tt.wantErr, got)
				return
			}
			assert.Contains(w.Body.String(), tt.wantBody)
		})
	}
	t.Run("invalid-state", func(t *testing.T) {
		assert := assert.New(t)
		hits := tp.Hits(oidc.TestTokenPath)
		req := httptest.NewRequest(http.MethodGet, "/_oauth/oidc?code=test-auth-code&state=not-a-state", nil)
		w := httptest.NewRecorder()
		callback(w, req)
		assert.Equal(http.StatusInternalServerError, w.Code)
		assert.Contains(w.Body.String(), oidc.ErrInvalidState.Error())
		assert.Equal(hits, tp.Hits(oidc.TestTokenPath))
	})
}

func Test_Routes(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	servers := testNewServers(t, tp, "acme")

	t.Run("invalid-parameters", func(t *testing.T) {
		assert := assert.New(t)
		_, err := Routes(nil, testSuccessFn, testFailFn)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		_, err = Routes(servers, nil, testFailFn)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		_, err = Routes(servers, testSuccessFn, nil)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
	})

	var gotSlugErr error
	eFn := func(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		gotSlugErr = e
		JSONErrorResponse(state, r, e, w, req)
	}
	callbacks, err := Routes(servers, testSuccessFn, eFn)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Mount(MountPath, callbacks)

	tests := []struct {
		name       string
		path       string
		method     string
		wantStatus int
		wantIs     error
	}{
		{name: "default-slug", path: "/_oauth/oidc", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "registered-slug", path: "/_oauth/acme", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "form-post", path: "/_oauth/acme", method: http.MethodPost, wantStatus: http.StatusOK},
		{name: "unknown-slug", path: "/_oauth/unknown", method: http.MethodGet, wantStatus: http.StatusNotFound, wantIs: oidc.ErrNotFound},
		{name: "unrouted-path", path: "/login/oidc", method: http.MethodGet, wantStatus: http.StatusNotFound},
		{name: "unsupported-method", path: "/_oauth/oidc", method: http.MethodPut, wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			gotSlugErr = nil
			state, _ := testState(t, oidc.PopupStyle)
			params := url.Values{"code": {"test-auth-code"}, "state": {state}}

			var req *http.Request
			if tt.method == http.MethodPost {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(params.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = httptest.NewRequest(tt.method, tt.path+"?"+params.Encode(), nil)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(tt.wantStatus, w.Code)
			if tt.wantIs != nil {
				assert.Truef(errors.Is(gotSlugErr, tt.wantIs), "wanted \"%s\" but got \"%s\"", tt.wantIs, gotSlugErr)
				return
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal("login successful: alice@example.com", w.Body.String())
			}
		})
	}
}

func Test_EndOfLogin(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	servers := testNewServers(t, tp)
	callback, err := AuthCode(servers.Default(), EndOfLogin(testRootURL), JSONErrorResponse)
	require.NoError(t, err)

	t.Run("redirect", func(t *testing.T) {
		assert := assert.New(t)
		state, _ := testState(t, oidc.RedirectStyle)
		req := httptest.NewRequest(http.MethodGet, "/_oauth/oidc?"+url.Values{"code": {"test-auth-code"}, "state": {state}}.Encode(), nil)
		w := httptest.NewRecorder()
		callback(w, req)
		assert.Equal(http.StatusFound, w.Code)
		assert.Equal(testRootURL+"/", w.Header().Get("Location"))
	})
	t.Run("off-application-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token, err := oidc.NewCredentialToken()
		require.NoError(err)
		state, err := oidc.Base64JSONStateCodec{}.Encode(&oidc.LoginState{
			LoginStyle:      oidc.RedirectStyle,
			CredentialToken: token,
			RedirectURL:     "https://evil.example/phish",
		})
		require.NoError(err)
		hits := tp.Hits(oidc.TestTokenPath)
		req := httptest.NewRequest(http.MethodGet, "/_oauth/oidc?"+url.Values{"code": {"test-auth-code"}, "state": {state}}.Encode(), nil)
		w := httptest.NewRecorder()
		callback(w, req)
		assert.Equal(http.StatusBadRequest, w.Code)
		assert.Empty(w.Header().Get("Location"))
		assert.Equal(hits, tp.Hits(oidc.TestTokenPath))
	})
	t.Run("end-of-login-refuses-foreign-target", func(t *testing.T) {
		assert := assert.New(t)
		w := httptest.NewRecorder()
		EndOfLogin(testRootURL)(&oidc.LoginState{
			LoginStyle:      oidc.RedirectStyle,
			CredentialToken: "tok",
			RedirectURL:     "https://evil.example/phish",
		}, nil, w, httptest.NewRequest(http.MethodGet, "/_oauth/oidc", nil))
		assert.Equal(http.StatusBadRequest, w.Code)
		assert.Empty(w.Header().Get("Location"))
	})
	t.Run("popup", func(t *testing.T) {
		assert := assert.New(t)
		state, token := testState(t, oidc.PopupStyle)
		req := httptest.NewRequest(http.MethodGet, "/_oauth/oidc?"+url.Values{"code": {"test-auth-code"}, "state": {state}}.Encode(), nil)
		w := httptest.NewRecorder()
		callback(w, req)
		assert.Equal(http.StatusOK, w.Code)
		assert.Equal("text/html; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Contains(w.Body.String(), fmt.Sprintf("credentialToken: %q", token))
		assert.Contains(w.Body.String(), "window.opener.postMessage")
	})
}

func Test_JSONErrorResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		respErr    *AuthenErrorResponse
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "idp-error", respErr: &AuthenErrorResponse{Error: "access_denied"}, wantStatus: http.StatusUnauthorized, wantError: "access_denied"},
		{name: "unknown", wantStatus: http.StatusInternalServerError, wantError: "unknown-callback-error"},
		{name: "not-found", err: fmt.Errorf("lookup: %w", oidc.ErrNotFound), wantStatus: http.StatusNotFound, wantError: "internal-callback-error"},
		{name: "invalid-state", err: oidc.ErrInvalidState, wantStatus: http.StatusBadRequest, wantError: "internal-callback-error"},
		{name: "invalid-parameter", err: oidc.ErrInvalidParameter, wantStatus: http.StatusBadRequest, wantError: "internal-callback-error"},
		{name: "protocol", err: &oidc.ProtocolError{Op: "op", StatusCode: 400, Detail: "invalid_grant"}, wantStatus: http.StatusInternalServerError, wantError: "internal-callback-error"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			req := httptest.NewRequest(http.MethodGet, "/_oauth/oidc", nil)
			w := httptest.NewRecorder()
			JSONErrorResponse("", tt.respErr, tt.err, w, req)
			assert.Equal(tt.wantStatus, w.Code)
			var got AuthenErrorResponse
			require.NoError(json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(tt.wantError, got.Error)
			if tt.err != nil {
				assert.Equal(tt.err.Error(), got.Description)
			}
		})
	}
}
