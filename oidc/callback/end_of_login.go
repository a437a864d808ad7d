// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/render"
	"github.com/hashicorp/cap-accounts/oidc"
)

// endOfPopup signals the opener window with the attempt's credential token,
// then closes the popup.
var endOfPopup = template.Must(template.New("end_of_popup").Parse(`<!DOCTYPE html>
<html>
<head><title>Login complete</title></head>
<body>
<p id="completedText">Login completed. Click here to close this window.</p>
<script>
  (function () {
    var msg = { credentialToken: {{.CredentialToken}} };
    if (window.opener) {
      window.opener.postMessage(msg, {{.Origin}});
    }
    window.close();
  })();
</script>
</body>
</html>
`))

// EndOfLogin returns a SuccessResponseFunc which finishes the browser's leg of
// a login. A redirect style login is sent back (302) to the state's redirect
// url, which must be under origin (the application's root url); any other
// target is refused with a 400. A popup style login gets a page which posts
// the credential token to its opener at origin and closes itself.
func EndOfLogin(origin string) SuccessResponseFunc {
	return func(state *oidc.LoginState, _ *oidc.LoginResult, w http.ResponseWriter, req *http.Request) {
		if state.LoginStyle == oidc.RedirectStyle {
			if !oidc.IsAppURL(origin, state.RedirectURL) {
				http.Error(w, "redirect url is not under the application root", http.StatusBadRequest)
				return
			}
			http.Redirect(w, req, state.RedirectURL, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = endOfPopup.Execute(w, struct {
			CredentialToken string
			Origin          string
		}{
			CredentialToken: state.CredentialToken,
			Origin:          origin,
		})
	}
}

// JSONErrorResponse is an ErrorResponseFunc which writes the failure as a JSON
// AuthenErrorResponse. An IdP error response is returned with a 401, an
// unknown provider with a 404, a bad request (state, code) with a 400 and
// everything else with a 500.
func JSONErrorResponse(_ string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	switch {
	case respErr != nil:
		render.Status(req, http.StatusUnauthorized)
		render.JSON(w, req, respErr)
	case e == nil:
		render.Status(req, http.StatusInternalServerError)
		render.JSON(w, req, &AuthenErrorResponse{Error: "unknown-callback-error"})
	default:
		status := http.StatusInternalServerError
		switch {
		case errors.Is(e, oidc.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(e, oidc.ErrInvalidState), errors.Is(e, oidc.ErrInvalidParameter):
			status = http.StatusBadRequest
		}
		render.Status(req, status)
		render.JSON(w, req, &AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
	}
}
