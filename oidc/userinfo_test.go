// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfo(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetUserInfoReply(map[string]interface{}{
			"email":  "alice@example.com",
			"groups": []interface{}{"admins", "staff"},
			"sciper": float64(123456),
		})
		ctx := HttpClientContext(context.Background(), tp.HTTPClient())
		got, err := UserInfo(ctx, NewEndpointResolver(nil), tp.ProviderConfig(), "2YotnFZFEjr1zCsicMWpAA")
		require.NoError(err)
		assert.Equal(Identity{
			"email":  "alice@example.com",
			"groups": []interface{}{"admins", "staff"},
			"sciper": float64(123456),
		}, got)
		assert.Equal("alice@example.com", got.StringValue("email"))
		assert.Empty(got.StringValue("sciper"))

		var decoded struct {
			Email  string   `json:"email"`
			Groups []string `json:"groups"`
		}
		require.NoError(got.Decode(&decoded))
		assert.Equal("alice@example.com", decoded.Email)
		assert.Equal([]string{"admins", "staff"}, decoded.Groups)
	})
	t.Run("form-post", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(http.MethodPost, r.Method)
			assert.Equal("application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.Equal("tok", r.PostFormValue("access_token"))
			assert.Empty(r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"email":"u@h.com"}`))
		}))
		t.Cleanup(srv.Close)
		c := &ProviderConfig{ClientID: "id", UserinfoEndpoint: srv.URL + "/me"}
		got, err := UserInfo(context.Background(), NewEndpointResolver(nil), c, "tok")
		require.NoError(err)
		assert.Equal("u@h.com", got.StringValue("email"))
	})
	t.Run("rejected-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		ctx := HttpClientContext(context.Background(), tp.HTTPClient())
		_, err := UserInfo(ctx, NewEndpointResolver(nil), tp.ProviderConfig(), "wrong")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrUserInfoFailed), "wanted \"%s\" but got \"%s\"", ErrUserInfoFailed, err)
		var pErr *ProtocolError
		require.True(errors.As(err, &pErr))
		assert.Equal(http.StatusUnauthorized, pErr.StatusCode)
		assert.Equal("invalid_token", pErr.Detail)
	})
	t.Run("not-json", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		for _, body := range []string{"<html>", "null", `"text"`} {
			body := body
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			c := &ProviderConfig{ClientID: "id", UserinfoEndpoint: srv.URL}
			_, err := UserInfo(context.Background(), NewEndpointResolver(nil), c, "tok")
			srv.Close()
			require.Error(err, body)
			assert.Truef(errors.Is(err, ErrUserInfoFailed), "wanted \"%s\" but got \"%s\"", ErrUserInfoFailed, err)
		}
	})
	t.Run("missing-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := &ProviderConfig{ClientID: "id", UserinfoEndpoint: "https://idp.example.com/me"}
		_, err := UserInfo(context.Background(), NewEndpointResolver(nil), c, "")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
}
