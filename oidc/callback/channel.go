// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/cap-accounts/oidc"
)

// LoginResp is used by AuthCodeWithChannel. The callback writes its response
// to the returned <-chan LoginResp.
type LoginResp struct {
	Result *oidc.LoginResult // Result is populated when the callback successfully completes the login.
	Error  error             // Error is populated when there's an error during the callback
}

// AuthCodeWithChannel creates an oidc authorization code callback handler which
// communicates results by writing a LoginResp to a channel. This callback is a
// one-time use callback, since it takes a specific oidc.LoginAttempt as a
// parameter which represents only one login attempt. Because of its one-time
// use case, it's most appropriate when implementing a BrowserTransport that
// invokes a localhost http listener within the same process that started the
// attempt.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
//
// Supported options:
//   - WithLogger
func AuthCodeWithChannel(s *oidc.Server, attempt *oidc.LoginAttempt, sFn SuccessResponseFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (<-chan LoginResp, http.HandlerFunc, error) {
	const op = "callback.AuthCodeWithChannel"
	switch {
	case s == nil:
		return nil, nil, fmt.Errorf("%s: server is nil: %w", op, oidc.ErrInvalidParameter)
	case attempt == nil:
		return nil, nil, fmt.Errorf("%s: login attempt is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)

	var once sync.Once
	doneCh := make(chan LoginResp, 1)
	return doneCh, func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.AuthCodeWithChannel"
		reqState := req.FormValue("state")
		if reqState != attempt.State {
			eFn(reqState, nil, fmt.Errorf("%s: response state doesn't belong to the attempt: %w", op, oidc.ErrInvalidState), w, req)
			return
		}
		handled := false
		once.Do(func() {
			handled = true
			var resp LoginResp
			defer func() {
				doneCh <- resp
				close(doneCh)
			}()
			if attempt.IsExpired() {
				resp.Error = fmt.Errorf("%s: %w", op, oidc.ErrAttemptExpired)
				eFn(reqState, nil, resp.Error, w, req)
				return
			}
			handle(s, func(state *oidc.LoginState, result *oidc.LoginResult, w http.ResponseWriter, req *http.Request) {
				resp.Result = result
				sFn(state, result, w, req)
			}, func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
				resp.Error = e
				if respErr != nil {
					resp.Error = fmt.Errorf("%s: %s: %w", op, respErr.Error, oidc.ErrLoginFailed)
				}
				eFn(state, respErr, e, w, req)
			}, opts.withLogger, w, req)
		})
		if !handled {
			eFn(reqState, nil, fmt.Errorf("%s: login attempt already completed: %w", op, oidc.ErrInvalidState), w, req)
		}
	}, nil
}
