// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/cap-accounts/oidc"
)

// pendingLogin is a login attempt started by LoginHandler, completed by the
// callback.
type pendingLogin struct {
	service    string
	expiration time.Time
	result     *oidc.LoginResult
}

// loginCache correlates callbacks with attempts by credential token.
type loginCache struct {
	m       sync.Mutex
	timeout time.Duration
	c       map[string]*pendingLogin
}

func newLoginCache(timeout time.Duration) *loginCache {
	return &loginCache{
		timeout: timeout,
		c:       map[string]*pendingLogin{},
	}
}

func (lc *loginCache) Add(a *oidc.LoginAttempt, service string) {
	lc.m.Lock()
	defer lc.m.Unlock()
	lc.c[a.CredentialToken] = &pendingLogin{service: service, expiration: a.Expiration}
}

func (lc *loginCache) SetResult(credentialToken string, r *oidc.LoginResult) error {
	const op = "loginCache.SetResult"
	lc.m.Lock()
	defer lc.m.Unlock()
	p, ok := lc.c[credentialToken]
	if !ok {
		return fmt.Errorf("%s: login not found", op)
	}
	if time.Now().After(p.expiration) {
		delete(lc.c, credentialToken)
		return fmt.Errorf("%s: login not found (expired)", op)
	}
	p.result = r
	// the result may be picked up until the same timeout elapses again
	p.expiration = time.Now().Add(lc.timeout)
	return nil
}

// Take returns and forgets the result of a completed login.
func (lc *loginCache) Take(credentialToken string) (*pendingLogin, error) {
	const op = "loginCache.Take"
	lc.m.Lock()
	defer lc.m.Unlock()
	p, ok := lc.c[credentialToken]
	switch {
	case !ok:
		return nil, fmt.Errorf("%s: login not found", op)
	case time.Now().After(p.expiration):
		delete(lc.c, credentialToken)
		return nil, fmt.Errorf("%s: login not found (expired)", op)
	case p.result == nil:
		return nil, fmt.Errorf("%s: login is pending", op)
	}
	delete(lc.c, credentialToken)
	return p, nil
}
