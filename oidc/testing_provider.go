// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/cap-accounts/oidc/clientassertion"
	"github.com/hashicorp/cap-accounts/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Paths served by a TestProvider.
const (
	TestAuthorizePath = "/authorize"
	TestTokenPath     = "/token"
	TestUserinfoPath  = "/userinfo"
)

// TestProvider is a local IdP which supports the authorization code flow the
// way this package uses it: discovery, /authorize, a form based /token and a
// form based /userinfo. It makes writing tests much easier. Every
// configuration method is safe to call while the provider is serving.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	accessToken         string
	replySubject        string
	customClaims        map[string]interface{}
	replyUserinfo       map[string]interface{}
	omitIDToken         bool
	disableUserInfo     bool
	relativeEndpoints   bool
	discoveryStatus     int
	tokenErrStatus      int
	tokenErrBody        string
	assertionKey        *rsa.PublicKey
	lastTokenRequest    url.Values
	hits                map[string]int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider serving https. It's
// stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:         "test-client-id",
		clientSecret:     "test-client-secret",
		expectedAuthCode: "test-auth-code",
		accessToken:      "2YotnFZFEjr1zCsicMWpAA",
		replySubject:     "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		customClaims: map[string]interface{}{
			"email":       "alice@example.com",
			"given_name":  "Alice",
			"family_name": "Doe",
		},
		replyUserinfo: map[string]interface{}{
			"sub":   "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
			"email": "alice@example.com",
			"name":  "Alice Doe",
		},
		hits: map[string]int{},
		t:    t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client which trusts the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// ProviderConfig returns a configuration of the test provider using
// discovery, its client credentials and its CA.
func (p *TestProvider) ProviderConfig() *ProviderConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &ProviderConfig{
		ClientID:   p.clientID,
		BaseURL:    p.Addr(),
		ProviderCA: p.caCert,
	}
	if p.clientSecret != "" {
		c.Secret = &Secret{ClientSecret: ClientSecret(p.clientSecret)}
	}
	return c
}

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientCreds configures the client credentials /token requires. An empty
// secret means client_secret must not be sent.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code returned by /authorize and
// accepted by /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs restricts the redirect_uri accepted by /authorize
// and /token. By default any redirect_uri is allowed.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetAccessToken configures the access_token issued by /token and required
// by /userinfo.
func (p *TestProvider) SetAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
}

// SetCustomClaims replaces the private claims of the issued id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetUserInfoReply replaces the document returned by /userinfo.
func (p *TestProvider) SetUserInfoReply(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = reply
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// UseRelativeEndpoints makes the discovery document list paths (e.g.
// "/token") instead of absolute URLs.
func (p *TestProvider) UseRelativeEndpoints(relative bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relativeEndpoints = relative
}

// SetDiscoveryStatus makes the discovery endpoint reply with status and no
// document. Zero restores the default behavior.
func (p *TestProvider) SetDiscoveryStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryStatus = status
}

// SetTokenError makes /token reply with status and body verbatim. A zero
// status restores the default behavior.
func (p *TestProvider) SetTokenError(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrStatus = status
	p.tokenErrBody = body
}

// SetClientAssertionKey makes the provider expect private_key_jwt client
// assertions, verified with key. With a nil key, a client assertion must be
// client_secret_jwt, signed with the client secret.
func (p *TestProvider) SetClientAssertionKey(key *rsa.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionKey = key
}

// clientAuthenticated checks the client_secret or, if there's one, the
// client_assertion of a token request. The caller must hold p.mu.
func (p *TestProvider) clientAuthenticated(form url.Values) bool {
	assertion := form.Get("client_assertion")
	if assertion == "" {
		return p.assertionKey == nil && form.Get("client_secret") == p.clientSecret
	}
	if form.Get("client_assertion_type") != clientassertion.JWTTypeParam || form.Get("client_secret") != "" {
		return false
	}
	token, err := jwt.ParseSigned(assertion)
	if err != nil {
		return false
	}
	var key interface{} = []byte(p.clientSecret)
	if p.assertionKey != nil {
		key = p.assertionKey
	}
	var claims jwt.Claims
	if err := token.Claims(key, &claims); err != nil {
		return false
	}
	err = claims.Validate(jwt.Expected{
		Issuer:   p.clientID,
		Subject:  p.clientID,
		Audience: jwt.Audience{p.Addr() + TestTokenPath},
		Time:     time.Now(),
	})
	return err == nil && claims.ID != ""
}

// LastTokenRequest returns the form of the last request to /token.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// Hits returns the number of requests received for path.
func (p *TestProvider) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(&body)
}

func (p *TestProvider) redirectURIAllowed(uri string) bool {
	return len(p.allowedRedirectURIs) == 0 || strutils.StrListContains(p.allowedRedirectURIs, uri)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()
	p.hits[req.URL.Path]++

	switch req.URL.Path {
	case WellKnownPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.discoveryStatus != 0 {
			w.WriteHeader(p.discoveryStatus)
			return
		}
		prefix := p.Addr()
		if p.relativeEndpoints {
			prefix = ""
		}
		reply := struct {
			Issuer           string `json:"issuer"`
			AuthEndpoint     string `json:"authorization_endpoint"`
			TokenEndpoint    string `json:"token_endpoint"`
			UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     prefix + TestAuthorizePath,
			TokenEndpoint:    prefix + TestTokenPath,
			UserinfoEndpoint: prefix + TestUserinfoPath,
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case TestAuthorizePath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		case qv.Get("redirect_uri") == "" || !p.redirectURIAllowed(qv.Get("redirect_uri")):
			w.WriteHeader(http.StatusBadRequest)
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
		default:
			redirectURI := qv.Get("redirect_uri") +
				"?state=" + url.QueryEscape(qv.Get("state")) +
				"&code=" + url.QueryEscape(p.expectedAuthCode)
			http.Redirect(w, req, redirectURI, http.StatusFound)
		}

	case TestTokenPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		p.lastTokenRequest = req.PostForm
		if p.tokenErrStatus != 0 {
			w.WriteHeader(p.tokenErrStatus)
			_, _ = w.Write([]byte(p.tokenErrBody))
			return
		}
		switch {
		case req.PostForm.Get("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case req.PostForm.Get("client_id") != p.clientID,
			!p.clientAuthenticated(req.PostForm):
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "")
			return
		case !p.redirectURIAllowed(req.PostForm.Get("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case req.PostForm.Get("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}

		reply := struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
			IDToken     string `json:"id_token,omitempty"`
		}{
			AccessToken: p.accessToken,
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		}
		if !p.omitIDToken {
			now := time.Now()
			stdClaims := jwt.Claims{
				Subject:   p.replySubject,
				Issuer:    p.Addr(),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
				Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
				Audience:  jwt.Audience{p.clientID},
			}
			reply.IDToken = TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, p.customClaims)
		}
		_ = p.writeJSON(w, &reply)

	case TestUserinfoPath:
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil || req.PostForm.Get("access_token") != p.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid_token"))
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
