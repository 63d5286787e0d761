// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command gatewayd is the nimbusfs S3-compatible gateway daemon: a
// management API (local/OIDC login, health, metrics) and a path-style
// S3 object listener, running as sibling tasks under one supervisor.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/nimbusfs/gateway/internal/store"
	"github.com/nimbusfs/gateway/lib/api"
	"github.com/nimbusfs/gateway/lib/config"
	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/logutil"
	"github.com/nimbusfs/gateway/lib/oidcrelay"
	"github.com/nimbusfs/gateway/lib/pwauth"
	"github.com/nimbusfs/gateway/lib/s3api"
	"github.com/nimbusfs/gateway/lib/s3auth"
)

var l = logutil.New("gatewayd")

type cli struct {
	DBPath string `help:"Path to the sqlite credential/config database, relative to STORAGE_PATH unless absolute." default:"gateway.db"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("nimbusfs-gateway: S3-compatible object storage gateway"))

	if err := run(c); err != nil {
		l.Errorln("fatal:", err)
		os.Exit(1)
	}
}

func run(c cli) error {
	env := config.LoadEnv()
	setLogLevel(env.LogLevel)

	if err := os.MkdirAll(env.StoragePath, 0o700); err != nil {
		return fmt.Errorf("create storage path %s: %w", env.StoragePath, err)
	}

	dbPath := c.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(env.StoragePath, dbPath)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	jwtState, err := jwtauth.Init(jwtKeyStoreAdapter{db}, 0, env.JWTIssuer, env.JWTExpiry)
	if err != nil {
		return fmt.Errorf("init jwt signing key: %w", err)
	}
	jwtGC := jwtauth.NewInvalidationGC(jwtInvalidationStoreAdapter{db})

	pwState, err := pwauth.Init(pwKeyStoreAdapter{db}, 0, env.AuthPepper)
	if err != nil {
		return fmt.Errorf("init password transport key: %w", err)
	}
	if err := pwState.EnsureInitialUser(pwUserStoreAdapter{db}, env.InitialUserUsername, env.InitialUserPassword, env.OverwriteInitialUser); err != nil {
		return fmt.Errorf("ensure initial user: %w", err)
	}

	sso := config.MergeSSO(config.LoadEnvSSO(), storedSSO(db))

	var oidcState *oidcrelay.State
	if sso.Configured() {
		url, _ := sso.OIDCURL.Get()
		id, _ := sso.OIDCClientID.Get()
		secret, _ := sso.OIDCClientSecret.Get()
		scope, _ := sso.OIDCScope.Get()
		if scope == "" {
			scope = "openid profile email"
		}
		redirectURL := strings.TrimSuffix(env.BaseURL, "/") + "/api/auth/oidc_callback"

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		oidcState, err = oidcrelay.Configure(ctx, http.DefaultClient, url, id, secret, redirectURL, scope)
		cancel()
		if err != nil {
			return fmt.Errorf("configure OIDC relay: %w", err)
		}
	}

	apiSvc := api.New(
		fmt.Sprintf(":%d", env.Port),
		jwtState, jwtGC,
		pwState, pwLoginLookupAdapter{db},
		oidcState, sso, env.AllowedOrigins,
	)

	objectStore := s3api.NewNopStore() // on-disk backend is wired in separately
	secrets := staticSecretResolver{accessKey: env.S3AccessKey, secret: env.S3SecretKey}
	s3Svc := s3api.New(fmt.Sprintf(":%d", env.S3Port), objectStore, secrets, env.StoragePath)

	main := suture.New("gatewayd", suture.Spec{PassThroughPanics: true})
	main.Add(apiSvc)
	main.Add(s3Svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		l.Infoln("shutting down on signal")
		cancel()
	}()

	return main.Serve(ctx)
}

func setLogLevel(name string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(name))); err == nil {
		logutil.SetLevel(lvl)
	}
}

func storedSSO(db *store.Store) config.OptionalSSO {
	var stored config.OptionalSSO
	if err := db.GetConfig(&stored); err != nil {
		l.Warnln("reading stored SSO config:", err)
	}
	return stored
}

// staticSecretResolver resolves exactly the single access key the
// gateway was configured with. lib/sigv4 takes the secret as a
// resolver callback rather than a hardcoded constant specifically so
// a real lookup can be plugged in here; this is a single configured
// credential pair rather than a multi-tenant credential table.
type staticSecretResolver struct {
	accessKey string
	secret    string
}

func (r staticSecretResolver) Secret(accessKey string) (string, error) {
	if accessKey != r.accessKey {
		return "", fmt.Errorf("gatewayd: unknown access key %q", accessKey)
	}
	return r.secret, nil
}

var _ s3auth.SecretResolver = staticSecretResolver{}
