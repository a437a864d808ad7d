// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/cap-accounts/configstore"
	"github.com/hashicorp/cap-accounts/oidc"
	"github.com/hashicorp/cap-accounts/oidc/callback"
	"github.com/hashicorp/go-hclog"
)

func main() {
	settings := flag.String("settings", "settings.yaml", "providers settings file")
	rootURL := flag.String("root-url", "http://localhost:3000", "the application's root url")
	addr := flag.String("addr", "localhost:3000", "listen address")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := hclog.Info
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "accounts",
		Level: level,
	})

	if err := run(logger, *settings, *rootURL, *addr); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger, settings, rootURL, addr string) error {
	const op = "run"
	store, err := configstore.Load(settings, configstore.WithLogger(logger.Named("configstore")))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	h, clients, err := newHandler(store, rootURL, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "root_url", rootURL, "providers", clients.Slugs())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()

	// handle ctrl-c
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	select {
	case err := <-srvCh:
		return fmt.Errorf("%s: server closed with error: %w", op, err)
	case <-sigintCh:
		logger.Info("interrupted")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// slugStore is a ConfigStore which can list its slugs.
type slugStore interface {
	oidc.ConfigStore
	Slugs() []string
}

// newHandler registers a Client and a Server for every provider of store and
// routes /login/{slug}, /login/result/{credentialToken} and /_oauth/{slug}.
func newHandler(store slugStore, rootURL string, logger hclog.Logger, opt ...oidc.Option) (http.Handler, *oidc.Registry[*oidc.Client], error) {
	const op = "newHandler"
	// clients and servers share one discovery cache
	cache := oidc.NewWellKnownCache(oidc.WithLogger(logger.Named("discovery")))
	users := newUserStore()
	logins := newLoginCache(oidc.DefaultAttemptTimeout)

	commonOpts := append([]oidc.Option{
		oidc.WithRootURL(rootURL),
		oidc.WithWellKnownCache(cache),
		oidc.WithLogger(logger.Named("oidc")),
	}, opt...)
	clients, err := oidc.NewClientRegistry(store, commonOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	servers, err := oidc.NewServerRegistry(store, append(commonOpts, oidc.WithUserStore(users))...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, slug := range store.Slugs() {
		if slug == oidc.DefaultSlug {
			continue
		}
		if _, err := clients.Register(slug); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := servers.Register(slug); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	callbacks, err := callback.Routes(
		servers,
		SuccessHandler(logins, callback.EndOfLogin(rootURL)),
		callback.JSONErrorResponse,
		callback.WithLogger(logger.Named("callback")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/login/{slug}", LoginHandler(clients, logins, logger))
	r.Get("/login/result/{credentialToken}", ResultHandler(logins))
	r.Mount(callback.MountPath, callbacks)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "providers: %v\n", clients.Slugs())
	})

	return r, clients, nil
}
