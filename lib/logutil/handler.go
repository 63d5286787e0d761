// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package logutil

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// handler is a minimal slog.Handler that prints a single line per
// record: timestamp, level, message, and any attributes in
// key=value form, quoting values that need it. It does not support
// per-package level overrides — this gateway has one process-wide
// level (see SetLevel).
type handler struct {
	out    io.Writer
	attrs  []slog.Attr
	groups []string
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	var sb strings.Builder
	sb.WriteString(rec.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	sb.WriteByte(' ')
	sb.WriteString(rec.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(rec.Message)

	attrs := make([]slog.Attr, 0, rec.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	rec.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range attrs {
		sb.WriteByte(' ')
		sb.WriteString(prefix)
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		v := a.Value.Resolve().String()
		if v == "" || strings.ContainsAny(v, ` "`) {
			v = strconv.Quote(v)
		}
		sb.WriteString(v)
	}
	sb.WriteByte('\n')

	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{out: h.out, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...), groups: h.groups}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &handler{out: h.out, attrs: h.attrs, groups: append(h.groups, name)}
}
