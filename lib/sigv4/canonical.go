// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Request is the slice of an incoming HTTP request the canonicalizer
// needs. Headers is lowercase-keyed with trimmed values; callers are
// responsible for folding repeated headers the way their HTTP stack
// does before calling in.
type Request struct {
	Method        string
	Path          string
	RawQuery      string // everything after '?', not including it
	Headers       map[string]string
	SignedHeaders []string // sorted, lowercase, as parsed by a Credential
}

// CanonicalQueryString re-encodes the raw query string: split
// on '&', split each pair once on '=', drop any pair named
// X-Amz-Signature, sort lexicographically by key, re-encode with
// form-url-encoding.
func CanonicalQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	type kv struct{ k, v string }
	kvs := make([]kv, 0, len(pairs))
	for _, p := range pairs {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, "=", 2)
		k := parts[0]
		v := ""
		if len(parts) == 2 {
			v = parts[1]
		}
		dk, err := url.QueryUnescape(k)
		if err != nil {
			dk = k
		}
		if dk == "X-Amz-Signature" {
			continue
		}
		dv, err := url.QueryUnescape(v)
		if err != nil {
			dv = v
		}
		kvs = append(kvs, kv{dk, dv})
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].k < kvs[j].k })

	parts := make([]string, 0, len(kvs))
	for _, p := range kvs {
		parts = append(parts, url.QueryEscape(p.k)+"="+url.QueryEscape(p.v))
	}
	return strings.Join(parts, "&")
}

// CanonicalHeaders returns, for every header in signedHeaders, a
// `name:value\n` line (headers sorted by name), and separately the
// `;`-joined signed header list. The terminating blank line comes from
// CanonicalRequest's LF join.
func CanonicalHeaders(headers map[string]string, signedHeaders []string) (canonical, joined string) {
	sorted := append([]string(nil), signedHeaders...)
	sort.Strings(sorted)

	var sb strings.Builder
	for _, h := range sorted {
		sb.WriteString(h)
		sb.WriteByte(':')
		sb.WriteString(strings.TrimSpace(headers[h]))
		sb.WriteByte('\n')
	}
	return sb.String(), strings.Join(sorted, ";")
}

// CanonicalRequest builds the literal Canonical Request string: method,
// path, canonical query string, canonical headers, signed-header list,
// and payload token, each LF-separated.
func CanonicalRequest(req Request, payload Payload) string {
	canonHeaders, joined := CanonicalHeaders(req.Headers, req.SignedHeaders)
	return strings.Join([]string{
		req.Method,
		req.Path,
		CanonicalQueryString(req.RawQuery),
		canonHeaders,
		joined,
		payload.Token(),
	}, "\n")
}

// HashHex returns the lowercase hex SHA-256 digest of s.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// StringToSign builds the String-to-Sign for a plain (non-chunked)
// request: the fixed algorithm name, the timestamp, the credential
// scope, and the hex digest of the canonical request.
func StringToSign(timestamp, scope, canonicalRequest string) string {
	return strings.Join([]string{
		Algorithm,
		timestamp,
		scope,
		HashHex(canonicalRequest),
	}, "\n")
}

// ChunkStringToSign builds the String-to-Sign for one aws-chunked
// frame: algorithm, timestamp, scope, previous signature, the hash of
// the empty string, and the hash of this chunk's bytes.
func ChunkStringToSign(timestamp, scope, previousSignature string, chunk []byte) string {
	return strings.Join([]string{
		AlgorithmChunked,
		timestamp,
		scope,
		previousSignature,
		EmptyStringSHA256,
		hashBytes(chunk),
	}, "\n")
}

// TrailerStringToSign builds the String-to-Sign for the trailing
// header frame: algorithm, timestamp, scope, and previous signature as
// in ChunkStringToSign, but the final line is the literal
// `name:value\n` of the trailer header, unhashed, with no
// empty-string-hash line in between.
func TrailerStringToSign(timestamp, scope, previousSignature, trailerHeaderLine string) string {
	return strings.Join([]string{
		AlgorithmChunked,
		timestamp,
		scope,
		previousSignature,
	}, "\n") + "\n" + trailerHeaderLine
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidateSignedHeaderCoverage enforces that every incoming header
// whose name starts with "x-amz-" is present (case folded) in
// signedHeaders.
func ValidateSignedHeaderCoverage(headers map[string]string, signedHeaders []string) error {
	covered := make(map[string]bool, len(signedHeaders))
	for _, h := range signedHeaders {
		covered[strings.ToLower(h)] = true
	}
	for name := range headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-") && !covered[lower] {
			return fmt.Errorf("header %q is not in SignedHeaders", name)
		}
	}
	return nil
}
