// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config reads the gateway's environment-variable
// configuration and merges its UI-overridable subset with the
// DB-stored copy, preserving which source won for each field.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Source tags where a merged configuration value came from.
type Source int

const (
	Unset Source = iota
	FromEnv
	FromStore
)

// Value wraps a configuration value alongside the Source that supplied
// it, letting the management API report provenance back to the UI.
type Value[T any] struct {
	Source Source
	V      T
}

// Get returns the wrapped value and whether it is set at all.
func (v Value[T]) Get() (T, bool) {
	return v.V, v.Source != Unset
}

// EnvConfig is the set of process-startup knobs read once from the
// environment, each with a documented default. Unlike SSO, these are
// never UI-editable, so there is no provenance to track — a plain
// struct of resolved values is enough.
type EnvConfig struct {
	Port        int
	S3Port      int
	StoragePath string
	StorageType string
	DBURL       string

	DatabaseMaxConnections int
	DatabaseMinConnections int
	DatabaseConnectTimeout time.Duration
	DatabaseLogging        bool

	JWTIssuer string
	JWTExpiry time.Duration

	AuthPepper string

	InitialUserUsername  string
	InitialUserPassword  string
	OverwriteInitialUser bool

	S3AccessKey string
	S3SecretKey string

	BaseURL        string
	LogLevel       string
	AllowedOrigins []string
}

// LoadEnv reads EnvConfig from the process environment, falling back
// to the documented default for any variable that is unset or fails
// to parse.
func LoadEnv() EnvConfig {
	return EnvConfig{
		Port:        envInt("PORT", 8080),
		S3Port:      envInt("S3_PORT", 9000),
		StoragePath: envString("STORAGE_PATH", "/data"),
		StorageType: envString("STORAGE_TYPE", "no-raid"),
		DBURL:       envString("DB_URL", ""),

		DatabaseMaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 1024),
		DatabaseMinConnections: envInt("DATABASE_MIN_CONNECTIONS", 1),
		DatabaseConnectTimeout: time.Duration(envInt("DATABASE_CONNECT_TIMEOUT", 5)) * time.Second,
		DatabaseLogging:        envBool("DATABASE_LOGGING", false),

		JWTIssuer: envString("JWT_ISS", "nimbusfs"),
		JWTExpiry: time.Duration(envInt("JWT_EXP", 604800)) * time.Second,

		AuthPepper: envString("AUTH_PEPPER", "nimbusfs_pepper_123456"),

		InitialUserUsername:  envString("INITIAL_USER_USERNAME", "admin"),
		InitialUserPassword:  envString("INITIAL_USER_PASSWORD", "admin"),
		OverwriteInitialUser: envBool("OVERWRITE_INITIAL_USER", false),

		S3AccessKey: envString("S3_ACCESS_KEY", "nimbusfs"),
		S3SecretKey: envString("S3_SECRET_KEY", "nimbusfs_secret_key"),

		BaseURL:        envString("BASE_URL", "http://localhost:8080"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		AllowedOrigins: envList("ALLOWED_ORIGINS", nil),
	}
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(name string, def []string) []string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// OptionalSSO is the UI-editable SSO settings shape, used both for
// what the environment supplies (OIDC_URL, OIDC_CLIENT_ID, …: present
// only when the corresponding variable is set) and for what is
// persisted in internal/store's config table (present only once
// someone has saved a value through the UI). A nil field means
// "not set from this source", distinct from a field set to its zero
// value.
type OptionalSSO struct {
	SSOInstantRedirect *bool   `json:"sso_instant_redirect,omitempty"`
	OIDCClientID       *string `json:"oidc_client_id,omitempty"`
	OIDCClientSecret   *string `json:"oidc_client_secret,omitempty"`
	OIDCURL            *string `json:"oidc_url,omitempty"`
	OIDCScope          *string `json:"oidc_scope,omitempty"`
}

// LoadEnvSSO reads the SSO variables from the environment, leaving a
// field nil when its variable is unset.
func LoadEnvSSO() OptionalSSO {
	var o OptionalSSO
	if v, ok := os.LookupEnv("SSO_INSTANT_REDIRECT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			o.SSOInstantRedirect = &b
		}
	}
	if v, ok := os.LookupEnv("OIDC_CLIENT_ID"); ok {
		o.OIDCClientID = &v
	}
	if v, ok := os.LookupEnv("OIDC_CLIENT_SECRET"); ok {
		o.OIDCClientSecret = &v
	}
	if v, ok := os.LookupEnv("OIDC_URL"); ok {
		o.OIDCURL = &v
	}
	if v, ok := os.LookupEnv("OIDC_SCOPE"); ok {
		o.OIDCScope = &v
	}
	return o
}

// SSO is the merged, provenance-tagged view of the OIDC settings the
// management API exposes and lib/oidcrelay consumes.
type SSO struct {
	SSOInstantRedirect Value[bool]
	OIDCClientID       Value[string]
	OIDCClientSecret   Value[string]
	OIDCURL            Value[string]
	OIDCScope          Value[string]
}

// MergeSSO combines env-sourced and DB-stored SSO settings, with the
// environment winning over the store for any field present in both:
// environment overrides DB overrides defaults.
func MergeSSO(env, stored OptionalSSO) SSO {
	return SSO{
		SSOInstantRedirect: mergeValue(env.SSOInstantRedirect, stored.SSOInstantRedirect),
		OIDCClientID:       mergeValue(env.OIDCClientID, stored.OIDCClientID),
		OIDCClientSecret:   mergeValue(env.OIDCClientSecret, stored.OIDCClientSecret),
		OIDCURL:            mergeValue(env.OIDCURL, stored.OIDCURL),
		OIDCScope:          mergeValue(env.OIDCScope, stored.OIDCScope),
	}
}

func mergeValue[T any](env, stored *T) Value[T] {
	if env != nil {
		return Value[T]{Source: FromEnv, V: *env}
	}
	if stored != nil {
		return Value[T]{Source: FromStore, V: *stored}
	}
	return Value[T]{}
}

// Configured reports whether every field OIDC relay configuration
// needs (URL, client ID, client secret) resolved to a non-empty value.
func (s SSO) Configured() bool {
	url, ok := s.OIDCURL.Get()
	if !ok || url == "" {
		return false
	}
	id, ok := s.OIDCClientID.Get()
	if !ok || id == "" {
		return false
	}
	secret, ok := s.OIDCClientSecret.Get()
	return ok && secret != ""
}
