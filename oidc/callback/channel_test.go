// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_AuthCodeWithChannel(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	servers := testNewServers(t, tp)
	store := oidc.NewStaticConfigStore(map[string]*oidc.ProviderConfig{oidc.DefaultSlug: tp.ProviderConfig()})
	client, err := oidc.NewClient(oidc.DefaultSlug, store, oidc.WithRootURL(testRootURL))
	require.NoError(t, err)

	newAttempt := func(t *testing.T) *oidc.LoginAttempt {
		t.Helper()
		a, err := client.NewAttempt(context.Background())
		require.NoError(t, err)
		return a
	}
	callbackReq := func(params url.Values) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/_oauth/oidc?"+params.Encode(), nil)
	}

	t.Run("invalid-parameters", func(t *testing.T) {
		assert := assert.New(t)
		a := newAttempt(t)
		_, _, err := AuthCodeWithChannel(nil, a, testSuccessFn, testFailFn)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		_, _, err = AuthCodeWithChannel(servers.Default(), nil, testSuccessFn, testFailFn)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		_, _, err = AuthCodeWithChannel(servers.Default(), a, nil, testFailFn)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		_, _, err = AuthCodeWithChannel(servers.Default(), a, testSuccessFn, nil)
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
	})
	t.Run("valid-then-used", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := newAttempt(t)
		doneCh, h, err := AuthCodeWithChannel(servers.Default(), a, testSuccessFn, testFailFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		h(w, callbackReq(url.Values{"code": {"test-auth-code"}, "state": {a.State}}))
		assert.Equal(http.StatusOK, w.Code)

		resp, ok := <-doneCh
		require.True(ok)
		require.NoError(resp.Error)
		assert.Equal("alice@example.com", resp.Result.ServiceData.ID)
		assert.Equal(a.CredentialToken, resp.Result.State.CredentialToken)

		// one-time use
		w = httptest.NewRecorder()
		h(w, callbackReq(url.Values{"code": {"test-auth-code"}, "state": {a.State}}))
		assert.Equal(http.StatusInternalServerError, w.Code)
		assert.Contains(w.Body.String(), "already completed")
		_, ok = <-doneCh
		assert.False(ok)
	})
	t.Run("state-of-another-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a, other := newAttempt(t), newAttempt(t)
		doneCh, h, err := AuthCodeWithChannel(servers.Default(), a, testSuccessFn, testFailFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		h(w, callbackReq(url.Values{"code": {"test-auth-code"}, "state": {other.State}}))
		assert.Equal(http.StatusInternalServerError, w.Code)
		assert.Contains(w.Body.String(), oidc.ErrInvalidState.Error())
		select {
		case <-doneCh:
			assert.Fail("unexpected login response")
		default:
		}
	})
	t.Run("idp-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := newAttempt(t)
		doneCh, h, err := AuthCodeWithChannel(servers.Default(), a, testSuccessFn, testFailFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		h(w, callbackReq(url.Values{"error": {"access_denied"}, "state": {a.State}}))
		assert.Equal(http.StatusUnauthorized, w.Code)
		resp := <-doneCh
		assert.Nil(resp.Result)
		assert.Truef(errors.Is(resp.Error, oidc.ErrLoginFailed), "wanted \"%s\" but got \"%s\"", oidc.ErrLoginFailed, resp.Error)
	})
	t.Run("expired-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := newAttempt(t)
		a.Expiration = time.Now().Add(-time.Minute)
		hits := tp.Hits(oidc.TestTokenPath)
		doneCh, h, err := AuthCodeWithChannel(servers.Default(), a, testSuccessFn, testFailFn)
		require.NoError(err)

		w := httptest.NewRecorder()
		h(w, callbackReq(url.Values{"code": {"test-auth-code"}, "state": {a.State}}))
		assert.Equal(http.StatusInternalServerError, w.Code)
		resp := <-doneCh
		assert.Truef(errors.Is(resp.Error, oidc.ErrAttemptExpired), "wanted \"%s\" but got \"%s\"", oidc.ErrAttemptExpired, resp.Error)
		assert.Equal(hits, tp.Hits(oidc.TestTokenPath))
	})
}
