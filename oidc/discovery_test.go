// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellKnownCache_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("one-fetch-per-base-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := NewWellKnownCache(WithHTTPClient(tp.HTTPClient()))

		first, err := c.Resolve(ctx, tp.Addr())
		require.NoError(err)
		second, err := c.Resolve(ctx, tp.Addr())
		require.NoError(err)
		assert.Same(first, second)
		assert.Equal(1, tp.Hits(WellKnownPath))
		assert.Equal(1, c.Len())
		assert.Equal(tp.Addr()+TestTokenPath, first.TokenEndpoint)
		assert.Equal(tp.Addr(), first.Extra["issuer"])

		// the key is the exact string
		_, err = c.Resolve(ctx, tp.Addr()+"/")
		require.NoError(err)
		assert.Equal(2, tp.Hits(WellKnownPath))
		assert.Equal(2, c.Len())
	})
	t.Run("concurrent-first-lookups-share-a-fetch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var fetches int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&fetches, 1)
			<-release
			_, _ = w.Write([]byte(`{"token_endpoint":"/token"}`))
		}))
		t.Cleanup(srv.Close)
		c := NewWellKnownCache()

		const callers = 8
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Resolve(ctx, srv.URL)
				errs <- err
			}()
		}
		require.Eventually(func() bool { return atomic.LoadInt32(&fetches) == 1 }, testWait, testTick)
		close(release)
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(err)
		}
		assert.EqualValues(1, atomic.LoadInt32(&fetches))
	})
	t.Run("cancelled-caller-does-not-fail-others", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var fetches int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&fetches, 1)
			<-release
			_, _ = w.Write([]byte(`{"token_endpoint":"/token"}`))
		}))
		t.Cleanup(srv.Close)
		c := NewWellKnownCache()

		cancelCtx, cancel := context.WithCancel(ctx)
		cancelledErr := make(chan error, 1)
		go func() {
			_, err := c.Resolve(cancelCtx, srv.URL)
			cancelledErr <- err
		}()
		require.Eventually(func() bool { return atomic.LoadInt32(&fetches) == 1 }, testWait, testTick)

		liveErr := make(chan error, 1)
		go func() {
			doc, err := c.Resolve(ctx, srv.URL)
			if err == nil && doc.TokenEndpoint != "/token" {
				err = errors.New("unexpected discovery document")
			}
			liveErr <- err
		}()

		cancel()
		err := <-cancelledErr
		require.Error(err)
		assert.Truef(errors.Is(err, context.Canceled), "wanted \"%s\" but got \"%s\"", context.Canceled, err)
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)

		close(release)
		require.NoError(<-liveErr)
		assert.EqualValues(1, atomic.LoadInt32(&fetches))
		assert.Equal(1, c.Len())
	})
	t.Run("failures-are-not-cached", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetDiscoveryStatus(http.StatusServiceUnavailable)
		c := NewWellKnownCache(WithHTTPClient(tp.HTTPClient()))

		_, err := c.Resolve(ctx, tp.Addr())
		require.Error(err)
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
		assert.Equal(0, c.Len())

		tp.SetDiscoveryStatus(0)
		doc, err := c.Resolve(ctx, tp.Addr())
		require.NoError(err)
		assert.NotEmpty(doc.AuthorizationEndpoint)
		assert.Equal(2, tp.Hits(WellKnownPath))
	})
	t.Run("forget", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := NewWellKnownCache(WithHTTPClient(tp.HTTPClient()))
		_, err := c.Resolve(ctx, tp.Addr())
		require.NoError(err)
		c.Forget(tp.Addr())
		assert.Equal(0, c.Len())
		_, err = c.Resolve(ctx, tp.Addr())
		require.NoError(err)
		assert.Equal(2, tp.Hits(WellKnownPath))
	})
	t.Run("client-from-context", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		c := NewWellKnownCache()
		_, err := c.Resolve(HttpClientContext(ctx, tp.HTTPClient()), tp.Addr())
		require.NoError(err)
	})
	t.Run("untrusted-tls", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		_, err := NewWellKnownCache().Resolve(ctx, tp.Addr())
		require.Error(err)
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
	})
	t.Run("empty-base-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewWellKnownCache().Resolve(ctx, "")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrConfig), "wanted \"%s\" but got \"%s\"", ErrConfig, err)
	})
	t.Run("unparseable", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{name: "not-json", body: "<html></html>"},
			{name: "json-array", body: `["a"]`},
			{name: "json-null", body: `null`},
			{name: "wrong-field-type", body: `{"token_endpoint":42}`},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(tt.body))
				}))
				t.Cleanup(srv.Close)
				c := NewWellKnownCache()
				_, err := c.Resolve(ctx, srv.URL)
				require.Error(err)
				assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
				assert.Equal(0, c.Len())
			})
		}
	})
}
