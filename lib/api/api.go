// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package api serves the gateway's management HTTP surface: local and
// OIDC-relayed login, session lifecycle, SSO discovery, health, and
// Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/nimbusfs/gateway/lib/config"
	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/logutil"
	"github.com/nimbusfs/gateway/lib/oidcrelay"
	"github.com/nimbusfs/gateway/lib/pwauth"
)

var l = logutil.New("api")

var loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "nimbusfs_login_attempts_total",
	Help: "Management API login attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(loginAttempts)
}

// Service is the suture-supervised management API listener.
type Service struct {
	addr         string
	jwtState     *jwtauth.State
	jwtGC        *jwtauth.InvalidationGC
	pwState      *pwauth.State
	loginStore   pwauth.LoginLookup
	oidcState    *oidcrelay.State // nil when OIDC is not configured
	sso          config.SSO
	allowOrigins []string

	listenerAddr net.Addr
	started      chan string // when non-nil, Serve sends the bound address on it
}

var _ suture.Service = (*Service)(nil)

// New builds a management API service bound to addr ("host:port"), the
// auth backends it delegates to, and the SSO configuration
// /auth/sso_config reports. oidcState is nil when OIDC is not
// configured.
func New(addr string, jwtState *jwtauth.State, jwtGC *jwtauth.InvalidationGC, pwState *pwauth.State, loginStore pwauth.LoginLookup, oidcState *oidcrelay.State, sso config.SSO, allowOrigins []string) *Service {
	return &Service{
		addr:         addr,
		jwtState:     jwtState,
		jwtGC:        jwtGC,
		pwState:      pwState,
		loginStore:   loginStore,
		oidcState:    oidcState,
		sso:          sso,
		allowOrigins: allowOrigins,
	}
}

// Handler returns the service's routed, CORS-wrapped HTTP handler
// without binding a listener, for use in tests driven by
// httptest.NewServer.
func (s *Service) Handler() http.Handler {
	return s.router()
}

func (s *Service) router() http.Handler {
	r := httprouter.New()
	r.HandlerFunc(http.MethodPost, "/api/auth/auth", s.postAuth)
	r.HandlerFunc(http.MethodPost, "/api/auth/logout", s.postLogout)
	r.HandlerFunc(http.MethodGet, "/api/auth/key", s.getKey)
	r.HandlerFunc(http.MethodGet, "/api/auth/test_token", s.getTestToken)
	r.HandlerFunc(http.MethodGet, "/api/auth/oidc_url", s.getOidcURL)
	r.HandlerFunc(http.MethodGet, "/api/auth/oidc_callback", s.getOidcCallback)
	r.HandlerFunc(http.MethodGet, "/api/auth/sso_config", s.getSSOConfig)
	r.HandlerFunc(http.MethodGet, "/health", s.getHealth)
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return s.corsMiddleware(r)
}

// corsMiddleware grants CORS access to the origins ALLOWED_ORIGINS
// names, via a configured allow-list rather than a blanket wildcard.
func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) originAllowed(origin string) bool {
	for _, o := range s.allowOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// Serve runs the management listener until ctx is cancelled, at which
// point it drains in-flight requests before returning.
func (s *Service) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.addr, err)
	}
	s.listenerAddr = listener.Addr()
	defer listener.Close()

	srv := &http.Server{Handler: s.router()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	if s.started != nil {
		select {
		case s.started <- listener.Addr().String():
		case <-ctx.Done():
		}
	}

	l.Infoln("management API listening on", listener.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("api.Service@%s", s.addr)
}
