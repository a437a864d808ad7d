// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/cap-accounts/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The function state parameter will contain the decoded state of the login
// attempt. The oidc.LoginResult is the outcome of the token exchange, the
// userinfo fetch and the identity projection. The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON,
// etc) it wishes to the client that originated the oidc flow.
//
// Just a reminder that the function parameters could also be used to
// record the result of the attempt (e.g. keyed by the state's credential
// token) or log info about the request, if the implementation requires it.
type SuccessResponseFunc func(state *oidc.LoginState, result *oidc.LoginResult, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the raw state returned as part of the oidc
// authentication response. It also gets parameters for the oidc
// authentication error response and/or the callback error raised while
// processing the request. The function should use the http.ResponseWriter to
// send back whatever content (headers, html, JSON, etc) it wishes to the
// client that originated the oidc flow.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}
