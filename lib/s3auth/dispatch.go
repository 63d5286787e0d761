// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package s3auth

import (
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Authenticate dispatches an incoming S3 request to multipart, query,
// or header mode, in that order: multipart first, then a signed query
// string, then headers.
func Authenticate(r *http.Request, secrets SecretResolver, newWriter func() (BodyWriter, error)) (Result, error) {
	headers := foldHeaders(r)

	if r.Method == http.MethodPost {
		if mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
			if mediaType == "multipart/form-data" {
				mr := multipart.NewReader(r.Body, params["boundary"])
				return MultipartAuth(mr, secrets, newWriter)
			}
		}
	}

	if HasSignatureParam(r.URL.RawQuery) {
		hreq := HeaderRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Headers:  headers,
			Body:     r.Body,
		}
		return QueryAuth(hreq, time.Now().UTC(), secrets, newWriter)
	}

	hreq := HeaderRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Headers:  headers,
		Body:     r.Body,
	}
	return HeaderAuth(hreq, secrets, newWriter)
}

// foldHeaders collapses net/http's canonical-cased, possibly
// multi-valued headers into the single-valued, lowercase-keyed map
// the canonicalizer works with: SigV4 headers are never repeated in
// practice, and only the first occurrence is kept.
func foldHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for k, vs := range r.Header {
		if len(vs) == 0 {
			continue
		}
		out[strings.ToLower(k)] = vs[0]
	}
	if _, ok := out["host"]; !ok && r.Host != "" {
		out["host"] = r.Host
	}
	return out
}
