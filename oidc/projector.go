// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
)

// StandardClaims are the personal information claims of
// https://openid.net/specs/openid-connect-core-1_0.html#StandardClaims that
// make sense in a new user's profile.
var StandardClaims = []string{
	"name", "given_name", "family_name", "middle_name", "nickname", "preferred_username",
	"website", "email", "email_verified", "gender", "birthdate",
	"zoneinfo", "locale", "phone_number", "phone_number_verified", "address",
}

// Credentials is everything a successful login learned about the end-user.
type Credentials struct {
	IDToken     IDToken
	AccessToken AccessToken

	// Claims are the decoded, unverified id_token payload.
	Claims map[string]any

	// Identity is the userinfo document.
	Identity Identity
}

// UserServiceData is stored (or merged) under the provider's namespace of the
// user record on every login. ID is the lookup key for returning users and
// must be stable and unique per end-user across logins.
type UserServiceData struct {
	ID     string
	Fields map[string]any
}

// Validate the service data.
func (d *UserServiceData) Validate() error {
	const op = "UserServiceData.Validate"
	switch {
	case d == nil:
		return fmt.Errorf("%s: service data is nil: %w", op, ErrInvalidServiceData)
	case d.ID == "":
		return fmt.Errorf("%s: id is empty: %w", op, ErrInvalidServiceData)
	}
	if _, ok := d.Fields["id"]; ok {
		return fmt.Errorf("%s: fields must not contain \"id\": %w", op, ErrInvalidServiceData)
	}
	return nil
}

// MarshalJSON flattens the data into one object: {"id": ..., <fields>}.
func (d UserServiceData) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		m[k] = v
	}
	m["id"] = d.ID
	return json.Marshal(m)
}

// UnmarshalJSON is the reverse of MarshalJSON.
func (d *UserServiceData) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	id, _ := m["id"].(string)
	delete(m, "id")
	d.ID = id
	d.Fields = m
	return nil
}

// Profile maps standard claim names to values. It's only used when a user is
// created.
type Profile map[string]any

// Projector turns the credentials of a successful login into what the user
// store keeps. Both methods are called exactly once per successful login and
// must not have side effects.
type Projector interface {
	UserServiceData(ctx context.Context, c *Credentials) (*UserServiceData, error)
	NewUserProfile(ctx context.Context, c *Credentials) (Profile, error)
}

// DefaultProjector uses the identity's "email" as the user id and keeps the
// claims; the profile holds the StandardClaims found in the identity, else
// in the claims.
type DefaultProjector struct{}

var _ Projector = DefaultProjector{}

// UserServiceData returns {id: identity.email, claims: claims}.
func (DefaultProjector) UserServiceData(_ context.Context, c *Credentials) (*UserServiceData, error) {
	const op = "DefaultProjector.UserServiceData"
	if c == nil {
		return nil, fmt.Errorf("%s: credentials are nil: %w", op, ErrNilParameter)
	}
	email := c.Identity.StringValue("email")
	if email == "" {
		return nil, fmt.Errorf("%s: identity has no email: %w", op, ErrInvalidServiceData)
	}
	return &UserServiceData{
		ID:     email,
		Fields: map[string]any{"claims": c.Claims},
	}, nil
}

// NewUserProfile returns ProfileFromClaims(c.Identity, c.Claims).
func (DefaultProjector) NewUserProfile(_ context.Context, c *Credentials) (Profile, error) {
	const op = "DefaultProjector.NewUserProfile"
	if c == nil {
		return nil, fmt.Errorf("%s: credentials are nil: %w", op, ErrNilParameter)
	}
	return ProfileFromClaims(c.Identity, c.Claims), nil
}

// ProfileFromClaims picks every StandardClaims name from identity when
// present, else from claims when present. Names found in neither are
// omitted. A null value counts as absent.
func ProfileFromClaims(identity Identity, claims map[string]any) Profile {
	p := Profile{}
	for _, k := range StandardClaims {
		if v, ok := identity[k]; ok && v != nil {
			p[k] = v
			continue
		}
		if v, ok := claims[k]; ok && v != nil {
			p[k] = v
		}
	}
	return p
}

// ProjectorFuncs adapts plain functions to a Projector. A nil function falls
// back to DefaultProjector, so a host can replace one hook and keep the
// other:
//
//	oidc.WithProjector(oidc.ProjectorFuncs{
//		UserServiceDataFunc: func(ctx context.Context, c *oidc.Credentials) (*oidc.UserServiceData, error) {
//			d, err := oidc.DefaultProjector{}.UserServiceData(ctx, c)
//			if err != nil {
//				return nil, err
//			}
//			d.Fields["sciper"] = c.Identity["sciper"]
//			return d, nil
//		},
//	})
type ProjectorFuncs struct {
	UserServiceDataFunc func(ctx context.Context, c *Credentials) (*UserServiceData, error)
	NewUserProfileFunc  func(ctx context.Context, c *Credentials) (Profile, error)
}

var _ Projector = ProjectorFuncs{}

// UserServiceData implements Projector.
func (f ProjectorFuncs) UserServiceData(ctx context.Context, c *Credentials) (*UserServiceData, error) {
	if f.UserServiceDataFunc == nil {
		return DefaultProjector{}.UserServiceData(ctx, c)
	}
	return f.UserServiceDataFunc(ctx, c)
}

// NewUserProfile implements Projector.
func (f ProjectorFuncs) NewUserProfile(ctx context.Context, c *Credentials) (Profile, error) {
	if f.NewUserProfileFunc == nil {
		return DefaultProjector{}.NewUserProfile(ctx, c)
	}
	return f.NewUserProfileFunc(ctx, c)
}
