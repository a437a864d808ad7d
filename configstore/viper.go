// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package configstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"
)

const (
	// DefaultKey is the settings key holding one table per slug.
	DefaultKey = "services"

	// DefaultEnvPrefix prefixes the environment overrides, e.g.
	// ACCOUNTS_SERVICES_ACME_CLIENTID
	DefaultEnvPrefix = "ACCOUNTS"
)

// fields are the settings of one provider, named as ProviderConfig's
// mapstructure tags.
var fields = []string{
	"clientId",
	"secret.clientSecret",
	"secret.authMethod",
	"secret.assertionKey",
	"secret.assertionAlg",
	"secret.assertionKeyId",
	"scope",
	"loginStyle",
	"loginUrlParameters",
	"baseUrl",
	"authorizeEndpoint",
	"tokenEndpoint",
	"userinfoEndpoint",
	"popupOptions",
	"providerCA",
}

// Viper is an oidc.ConfigStore reading every provider's settings from
// <key>.<slug>.* of a viper instance, so they may come from a settings file,
// the environment or anything else viper supports. It is concurrently safe.
//
// Viper lowercases keys: slugs and the keys of loginUrlParameters and
// popupOptions are lowercase once read.
type Viper struct {
	mu     sync.RWMutex
	v      *viper.Viper
	key    string
	logger hclog.Logger
}

var _ oidc.ConfigStore = (*Viper)(nil)

// New creates a store on top of v.
//
// Supported options:
//   - WithKey
//   - WithLogger
func New(v *viper.Viper, opt ...oidc.Option) (*Viper, error) {
	const op = "configstore.New"
	if v == nil {
		return nil, fmt.Errorf("%s: viper instance is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	if opts.withKey == "" {
		return nil, fmt.Errorf("%s: settings key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	return &Viper{
		v:      v,
		key:    opts.withKey,
		logger: opts.withLogger,
	}, nil
}

// Load creates a store from the settings file at path. Every setting can be
// overridden from the environment, with the env prefix (default: ACCOUNTS)
// and "_" in place of ".": ACCOUNTS_SERVICES_<SLUG>_<FIELD>.
//
// Supported options:
//   - WithKey
//   - WithEnvPrefix
//   - WithLogger
func Load(path string, opt ...oidc.Option) (*Viper, error) {
	const op = "configstore.Load"
	if path == "" {
		return nil, fmt.Errorf("%s: settings file path is empty: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%s: unable to read settings file %q: %w: %w", op, path, oidc.ErrConfig, err)
	}
	v.SetEnvPrefix(opts.withEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	opts.withLogger.Debug("loaded settings", "path", path, "env_prefix", opts.withEnvPrefix)
	return New(v, opt...)
}

// Config returns the configuration of slug. It doesn't validate it; the
// oidc facades do before every use.
func (s *Viper) Config(_ context.Context, slug string) (*oidc.ProviderConfig, error) {
	const op = "configstore.(Viper).Config"
	if slug == "" {
		return nil, fmt.Errorf("%s: missing slug: %w: %w", op, oidc.ErrConfig, oidc.ErrInvalidParameter)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := map[string]interface{}{}
	found := false
	for _, f := range fields {
		k := s.key + "." + slug + "." + f
		if !s.v.IsSet(k) {
			continue
		}
		found = true
		if head, tail, nested := strings.Cut(f, "."); nested {
			m, _ := raw[head].(map[string]interface{})
			if m == nil {
				m = map[string]interface{}{}
				raw[head] = m
			}
			m[tail] = s.v.Get(k)
			continue
		}
		raw[f] = s.v.Get(k)
	}
	if !found {
		return nil, fmt.Errorf("%s: no configuration for service %q: %w: %w", op, slug, oidc.ErrConfig, oidc.ErrNotFound)
	}

	var c oidc.ProviderConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       scopeHookFunc(),
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create decoder: %w", op, err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%s: unable to decode configuration for service %q: %w: %w", op, slug, oidc.ErrConfig, err)
	}
	s.logger.Debug("read provider configuration", "slug", slug)
	return &c, nil
}

// Slugs returns the sorted slugs found under the store's key. Slugs only set
// from the environment aren't listed.
func (s *Viper) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.v.GetStringMap(s.key)
	slugs := make([]string, 0, len(m))
	for slug := range m {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Reload re-reads the settings file, if the store has one.
func (s *Viper) Reload() error {
	const op = "configstore.(Viper).Reload"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v.ConfigFileUsed() == "" {
		return nil
	}
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, oidc.ErrConfig, err)
	}
	s.logger.Debug("reloaded settings", "path", s.v.ConfigFileUsed())
	return nil
}

// scopeHookFunc splits a space separated scope string into an oidc.Scope.
func scopeHookFunc() mapstructure.DecodeHookFuncType {
	scopeType := reflect.TypeOf(oidc.Scope{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != scopeType || from.Kind() != reflect.String {
			return data, nil
		}
		return oidc.Scope(strings.Fields(data.(string))), nil
	}
}
