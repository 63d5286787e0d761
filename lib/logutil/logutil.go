// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logutil wraps log/slog with the small line-attribution
// conventions used across the gateway: every package gets its own
// named adapter, and a single process-wide level (set from LOG_LEVEL)
// gates what gets printed.
package logutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	defaultLevel = &levelBox{level: slog.LevelInfo}
	root         *slog.Logger
)

func init() {
	var out io.Writer = os.Stdout
	if os.Getenv("LOGGER_DISCARD") != "" {
		out = io.Discard
	}
	root = slog.New(&handler{out: out})
	slog.SetDefault(root)

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(lvl))); err == nil {
			defaultLevel.set(l)
		}
	}
}

// SetLevel overrides the process-wide log level, e.g. after parsing
// configuration that arrived after package init.
func SetLevel(l slog.Level) {
	defaultLevel.set(l)
}

type levelBox struct {
	mut   sync.RWMutex
	level slog.Level
}

func (b *levelBox) set(l slog.Level) {
	b.mut.Lock()
	b.level = l
	b.mut.Unlock()
}

func (b *levelBox) get() slog.Level {
	b.mut.RLock()
	defer b.mut.RUnlock()
	return b.level
}

// Adapter is a package-scoped logger, conventionally constructed once
// per package as `var l = logutil.New("pkgname")`.
type Adapter struct {
	pkg string
	l   *slog.Logger
}

// New returns a logger tagged with the given package name.
func New(pkg string) *Adapter {
	return &Adapter{pkg: pkg, l: root}
}

func (a *Adapter) Debugf(format string, args ...interface{}) { a.log(slog.LevelDebug, format, args...) }
func (a *Adapter) Infof(format string, args ...interface{})  { a.log(slog.LevelInfo, format, args...) }
func (a *Adapter) Warnf(format string, args ...interface{})  { a.log(slog.LevelWarn, format, args...) }
func (a *Adapter) Errorf(format string, args ...interface{}) { a.log(slog.LevelError, format, args...) }

func (a *Adapter) Debugln(args ...interface{}) { a.logln(slog.LevelDebug, args...) }
func (a *Adapter) Infoln(args ...interface{})  { a.logln(slog.LevelInfo, args...) }
func (a *Adapter) Warnln(args ...interface{})  { a.logln(slog.LevelWarn, args...) }
func (a *Adapter) Errorln(args ...interface{}) { a.logln(slog.LevelError, args...) }

func (a *Adapter) log(level slog.Level, format string, args ...interface{}) {
	a.emit(level, fmt.Sprintf(format, args...))
}

func (a *Adapter) logln(level slog.Level, args ...interface{}) {
	a.emit(level, strings.TrimSpace(fmt.Sprintln(args...)))
}

func (a *Adapter) emit(level slog.Level, msg string) {
	if level < defaultLevel.get() {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(slog.String("pkg", a.pkg))
	_ = a.l.Handler().Handle(context.Background(), r)
}
