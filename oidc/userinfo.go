// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxUserInfoBytes bounds how much of a userinfo response is read.
const maxUserInfoBytes = 1 << 20

// Identity is the JSON document returned by the userinfo endpoint. Its shape
// is IdP specific.
type Identity map[string]any

// Decode the identity into v, which should be a pointer to a struct
// describing the IdP's userinfo document.
func (i Identity) Decode(v any) error {
	const op = "Identity.Decode"
	b, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// StringValue returns the value of key when it's a string, else "".
func (i Identity) StringValue(key string) string {
	s, _ := i[key].(string)
	return s
}

// UserInfo posts the access token as the form field "access_token" to the
// userinfo endpoint of c and returns the IdP's identity document verbatim.
func UserInfo(ctx context.Context, r *EndpointResolver, c *ProviderConfig, accessToken AccessToken) (Identity, error) {
	const op = "oidc.UserInfo"
	switch {
	case r == nil:
		return nil, fmt.Errorf("%s: endpoint resolver is nil: %w", op, ErrNilParameter)
	case c == nil:
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	case accessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	endpoint, err := r.Resolve(ctx, c, EndpointUserinfo)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to resolve userinfo endpoint: %w", op, err)
	}

	form := url.Values{"access_token": {string(accessToken)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := httpClientFromContext(ctx, nil).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to reach userinfo endpoint: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w: %w", op, ErrUserInfoFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUserInfoFailed,
			&ProtocolError{Op: op, StatusCode: resp.StatusCode, Detail: string(body)})
	}
	var identity Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("%s: response is not JSON: %w: %w", op, ErrUserInfoFailed, err)
	}
	if identity == nil {
		return nil, fmt.Errorf("%s: response is not a JSON object: %w", op, ErrUserInfoFailed)
	}
	return identity, nil
}
