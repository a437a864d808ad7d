// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrNotFound           = errors.New("not found")
	ErrConfig             = errors.New("invalid provider configuration")
	ErrInvalidCACert      = errors.New("invalid CA certificate")
	ErrDiscovery          = errors.New("discovery failed")
	ErrProtocol           = errors.New("oidc protocol error")
	ErrMissingIDToken     = errors.New("id_token is missing")
	ErrMissingAccessToken = errors.New("access_token is missing")
	ErrMalformedToken     = errors.New("malformed token")
	ErrUserInfoFailed     = errors.New("user info failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidServiceData = errors.New("invalid user service data")
	ErrDuplicateSlug      = errors.New("slug is already registered")
	ErrAttemptExpired     = errors.New("login attempt expired")
	ErrLoginFailed        = errors.New("login failed")
	ErrIDGeneratorFailed  = errors.New("id generation failed")
)

// ProtocolError is returned when an IdP endpoint answers with an unsuccessful
// status. Detail holds the response body verbatim; no attempt is made to
// parse it.
//
// errors.Is(err, ErrProtocol) is true for every ProtocolError.
type ProtocolError struct {
	Op         string
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: status %d: %s", e.Op, ErrProtocol, e.StatusCode, e.Detail)
}

// Is supports errors.Is(err, ErrProtocol).
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}
