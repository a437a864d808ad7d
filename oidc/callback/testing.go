// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state *oidc.LoginState, result *oidc.LoginResult, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful: " + result.ServiceData.ID))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

const testRootURL = "https://app.example.com"

// testNewServers creates a server registry whose default provider is the
// TestProvider (tp), plus any other slugs given. This is helpful internally,
// but intentionally not exported.
func testNewServers(t *testing.T, tp *oidc.TestProvider, slugs ...string) *oidc.Registry[*oidc.Server] {
	const op = "testNewServers"
	t.Helper()
	require := require.New(t)
	require.NotNilf(tp, "%s: test provider is nil", op)

	configs := map[string]*oidc.ProviderConfig{oidc.DefaultSlug: tp.ProviderConfig()}
	for _, s := range slugs {
		configs[s] = tp.ProviderConfig()
	}
	reg, err := oidc.NewServerRegistry(oidc.NewStaticConfigStore(configs), oidc.WithRootURL(testRootURL))
	require.NoError(err)
	for _, s := range slugs {
		_, err := reg.Register(s)
		require.NoError(err)
	}
	return reg
}

// testState encodes a login state for the given style.
func testState(t *testing.T, style oidc.LoginStyle) (encoded string, credentialToken string) {
	t.Helper()
	require := require.New(t)
	token, err := oidc.NewCredentialToken()
	require.NoError(err)
	encoded, err = oidc.Base64JSONStateCodec{}.Encode(&oidc.LoginState{
		LoginStyle:      style,
		CredentialToken: token,
		RedirectURL:     testRootURL + "/",
	})
	require.NoError(err)
	return encoded, token
}
