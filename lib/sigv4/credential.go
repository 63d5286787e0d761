// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sigv4

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credential is the parsed SigV4 preamble: the access key, the
// credential-scope fields, the signed header list (sorted, lowercase),
// and the presented hex signature.
type Credential struct {
	AccessKey     string
	Date          string // YYYYMMDD
	Region        string
	SignedHeaders []string // sorted, lowercase
	Signature     string   // hex
}

// ParseCredentialScope splits the five-field `/`-separated credential
// scope (access key plus the four-field date/region/service/terminator
// tuple) and checks the fixed service/terminator values. Used directly
// by callers that only have a bare `Credential=` value, such as
// multipart POST fields.
func ParseCredentialScope(scope string) (accessKey, date, region string, err error) {
	parts := strings.Split(scope, "/")
	if len(parts) != 5 {
		return "", "", "", fmt.Errorf("credential scope must have 5 fields, got %d", len(parts))
	}
	if parts[3] != Service {
		return "", "", "", fmt.Errorf("credential scope service must be %q, got %q", Service, parts[3])
	}
	if parts[4] != Terminator {
		return "", "", "", fmt.Errorf("credential scope terminator must be %q, got %q", Terminator, parts[4])
	}
	return parts[0], parts[1], parts[2], nil
}

// sortedSignedHeaders splits on ';', lowercases, and requires a
// case-insensitive "host" to be present. The result is sorted by name.
func sortedSignedHeaders(raw string) ([]string, error) {
	parts := strings.Split(raw, ";")
	headers := make([]string, 0, len(parts))
	hasHost := false
	for _, p := range parts {
		h := strings.ToLower(strings.TrimSpace(p))
		if h == "" {
			continue
		}
		if h == "host" {
			hasHost = true
		}
		headers = append(headers, h)
	}
	if !hasHost {
		return nil, fmt.Errorf("signed headers must include host")
	}
	sort.Strings(headers)
	return headers, nil
}

// ParseHeader parses the literal value of an Authorization header of
// the form `AWS4-HMAC-SHA256 Credential=.., SignedHeaders=.., Signature=..`.
func ParseHeader(value string) (Credential, error) {
	const prefix = Algorithm + " "
	if !strings.HasPrefix(value, prefix) {
		return Credential{}, fmt.Errorf("authorization header must start with %q", prefix)
	}
	rest := strings.TrimPrefix(value, prefix)

	parts := strings.Split(rest, ",")
	if len(parts) != 3 {
		return Credential{}, fmt.Errorf("authorization header must have 3 comma-separated parts, got %d", len(parts))
	}

	fields := make(map[string]string, 3)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return Credential{}, fmt.Errorf("malformed authorization field %q", p)
		}
		fields[kv[0]] = kv[1]
	}

	credentialField, ok := fields["Credential"]
	if !ok {
		return Credential{}, fmt.Errorf("authorization header missing Credential")
	}
	signedHeadersField, ok := fields["SignedHeaders"]
	if !ok {
		return Credential{}, fmt.Errorf("authorization header missing SignedHeaders")
	}
	signatureField, ok := fields["Signature"]
	if !ok {
		return Credential{}, fmt.Errorf("authorization header missing Signature")
	}

	accessKey, date, region, err := ParseCredentialScope(credentialField)
	if err != nil {
		return Credential{}, err
	}
	headers, err := sortedSignedHeaders(signedHeadersField)
	if err != nil {
		return Credential{}, err
	}

	return Credential{
		AccessKey:     accessKey,
		Date:          date,
		Region:        region,
		SignedHeaders: headers,
		Signature:     signatureField,
	}, nil
}

// QueryCredential is a Credential plus the presigned-URL fields that
// have no header-mode equivalent: the expiry window and the signing
// timestamp.
type QueryCredential struct {
	Credential
	Timestamp time.Time
	Expires   int
}

// ParseQuery parses the six X-Amz-* query parameters a presigned URL
// must carry. now is compared against Timestamp+Expires by the caller.
func ParseQuery(values map[string]string) (QueryCredential, error) {
	algorithm, ok := values["X-Amz-Algorithm"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-Algorithm")
	}
	if algorithm != Algorithm {
		return QueryCredential{}, fmt.Errorf("unsupported X-Amz-Algorithm %q", algorithm)
	}

	credentialField, ok := values["X-Amz-Credential"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-Credential")
	}
	dateField, ok := values["X-Amz-Date"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-Date")
	}
	expiresField, ok := values["X-Amz-Expires"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-Expires")
	}
	signedHeadersField, ok := values["X-Amz-SignedHeaders"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-SignedHeaders")
	}
	signatureField, ok := values["X-Amz-Signature"]
	if !ok {
		return QueryCredential{}, fmt.Errorf("missing X-Amz-Signature")
	}

	accessKey, date, region, err := ParseCredentialScope(credentialField)
	if err != nil {
		return QueryCredential{}, err
	}
	headers, err := sortedSignedHeaders(signedHeadersField)
	if err != nil {
		return QueryCredential{}, err
	}

	ts, err := time.Parse(DateFormat, dateField)
	if err != nil {
		return QueryCredential{}, fmt.Errorf("invalid X-Amz-Date %q: %w", dateField, err)
	}

	expires, err := strconv.Atoi(expiresField)
	if err != nil {
		return QueryCredential{}, fmt.Errorf("invalid X-Amz-Expires %q: %w", expiresField, err)
	}
	if expires < 1 || expires > 604800 {
		return QueryCredential{}, fmt.Errorf("X-Amz-Expires out of range [1, 604800]: %d", expires)
	}

	return QueryCredential{
		Credential: Credential{
			AccessKey:     accessKey,
			Date:          date,
			Region:        region,
			SignedHeaders: headers,
			Signature:     signatureField,
		},
		Timestamp: ts,
		Expires:   expires,
	}, nil
}

// Expired reports whether now is more than Expires seconds after
// Timestamp, matching the "now() - date > expires" rule.
func (q QueryCredential) Expired(now time.Time) bool {
	return now.Sub(q.Timestamp) > time.Duration(q.Expires)*time.Second
}

// Scope returns the credential-scope string this Credential was
// derived from, e.g. "20130524/us-east-1/s3/aws4_request".
func (c Credential) Scope() string {
	return c.Date + "/" + c.Region + "/" + Service + "/" + Terminator
}
