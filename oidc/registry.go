// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hashicorp/go-hclog"
)

// DefaultSlug is the slug of the provider every registry starts with.
const DefaultSlug = "oidc"

// validateSlug checks that slug can be used as a config key and as the last
// segment of a callback path.
func validateSlug(slug string) error {
	const op = "oidc.validateSlug"
	switch {
	case slug == "":
		return fmt.Errorf("%s: slug is empty: %w", op, ErrInvalidParameter)
	case strings.ContainsRune(slug, '/'):
		return fmt.Errorf("%s: slug %q contains a slash: %w", op, slug, ErrInvalidParameter)
	case strings.IndexFunc(slug, unicode.IsSpace) >= 0:
		return fmt.Errorf("%s: slug %q contains white space: %w", op, slug, ErrInvalidParameter)
	}
	return nil
}

// Constructor creates the facade of one provider.
type Constructor[F any] func(slug string, store ConfigStore, opt ...Option) (F, error)

// Registry holds the facades of the configured providers, keyed by slug. A
// slug is registered at most once per registry; two registries (e.g. a
// server's and a test's) never share facades.
//
// A Registry is concurrently safe.
type Registry[F any] struct {
	mu       sync.RWMutex
	store    ConfigStore
	newFn    Constructor[F]
	defaults []Option
	facades  map[string]F
	logger   hclog.Logger
}

func newRegistry[F any](store ConfigStore, newFn Constructor[F], opt ...Option) (*Registry[F], error) {
	const op = "oidc.newRegistry"
	if store == nil {
		return nil, fmt.Errorf("%s: config store is nil: %w", op, ErrNilParameter)
	}
	opts := getRegistryOpts(opt...)
	cache := opts.withCache
	if cache == nil {
		cache = NewWellKnownCache(WithLogger(opts.withLogger))
	}
	// every facade of the registry shares one discovery cache, unless its
	// own options say otherwise.
	defaults := make([]Option, 0, len(opt)+1)
	defaults = append(defaults, WithWellKnownCache(cache))
	defaults = append(defaults, opt...)
	r := &Registry[F]{
		store:    store,
		newFn:    newFn,
		defaults: defaults,
		facades:  map[string]F{},
		logger:   opts.withLogger,
	}
	if _, err := r.Register(DefaultSlug); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// NewServerRegistry creates a registry of Servers, with the DefaultSlug
// provider already registered. The options are applied to every Server, ahead
// of the ones given to Register.
func NewServerRegistry(store ConfigStore, opt ...Option) (*Registry[*Server], error) {
	const op = "oidc.NewServerRegistry"
	r, err := newRegistry[*Server](store, NewServer, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// NewClientRegistry creates a registry of Clients, with the DefaultSlug
// provider already registered. The options are applied to every Client, ahead
// of the ones given to Register.
func NewClientRegistry(store ConfigStore, opt ...Option) (*Registry[*Client], error) {
	const op = "oidc.NewClientRegistry"
	r, err := newRegistry[*Client](store, NewClient, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// Register creates and stores the facade of slug. It fails with
// ErrDuplicateSlug if slug is already registered.
func (r *Registry[F]) Register(slug string, opt ...Option) (F, error) {
	const op = "Registry.Register"
	var zero F
	if err := validateSlug(slug); err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.facades[slug]; ok {
		return zero, fmt.Errorf("%s: %q: %w", op, slug, ErrDuplicateSlug)
	}
	all := make([]Option, 0, len(r.defaults)+len(opt))
	all = append(all, r.defaults...)
	all = append(all, opt...)
	f, err := r.newFn(slug, r.store, all...)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	r.facades[slug] = f
	r.logger.Debug("registered provider", "slug", slug)
	return f, nil
}

// Get returns the facade of slug, or ErrNotFound.
func (r *Registry[F]) Get(slug string) (F, error) {
	const op = "Registry.Get"
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.facades[slug]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%s: %q: %w", op, slug, ErrNotFound)
	}
	return f, nil
}

// Default returns the facade of DefaultSlug.
func (r *Registry[F]) Default() F {
	f, _ := r.Get(DefaultSlug)
	return f
}

// Slugs returns the registered slugs, sorted.
func (r *Registry[F]) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.facades))
	for s := range r.facades {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs
}

// registryOptions is the set of available options for the registries.
type registryOptions struct {
	withCache  *WellKnownCache
	withLogger hclog.Logger
}

func registryDefaults() registryOptions {
	return registryOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getRegistryOpts(opt ...Option) registryOptions {
	opts := registryDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
