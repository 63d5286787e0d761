// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package s3auth

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/nimbusfs/gateway/lib/apierror"
	"github.com/nimbusfs/gateway/lib/sigv4"
)

// MultipartAuth implements verification for browser-style
// multipart/form-data POST uploads. The file part streams to the
// writer; the five metadata fields are collected; everything else
// lands in Result.Additional. If any metadata field is missing, the
// identity is Anonymous.
func MultipartAuth(r *multipart.Reader, secrets SecretResolver, newWriter func() (BodyWriter, error)) (Result, error) {
	writer, err := newWriter()
	if err != nil {
		return Result{}, apierror.Internal(fmt.Errorf("create body writer: %w", err))
	}

	var policy, algorithm, credential, date, signature string
	var havePolicy, haveAlgorithm, haveCredential, haveDate, haveSignature bool
	additional := make(map[string]string)

	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, apierror.BadRequest(fmt.Errorf("read multipart field: %w", err))
		}

		name := part.FormName()
		if name == "file" {
			if _, err := io.Copy(writer, part); err != nil {
				part.Close()
				return Result{}, apierror.Internal(fmt.Errorf("write file part: %w", err))
			}
			part.Close()
			continue
		}

		buf, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return Result{}, apierror.BadRequest(fmt.Errorf("read field %q: %w", name, err))
		}
		value := string(buf)

		switch name {
		case "policy":
			policy, havePolicy = value, true
		case "x-amz-algorithm":
			algorithm, haveAlgorithm = value, true
		case "x-amz-credential":
			credential, haveCredential = value, true
		case "x-amz-date":
			date, haveDate = value, true
		case "x-amz-signature":
			signature, haveSignature = value, true
		default:
			additional[name] = value
		}
	}
	_ = date // collected but never validated beyond presence

	identity := Anonymous()
	if havePolicy && haveAlgorithm && haveCredential && haveDate && haveSignature {
		if algorithm != sigv4.Algorithm {
			return Result{}, apierror.BadRequest(fmt.Errorf("unsupported x-amz-algorithm %q", algorithm))
		}
		if _, err := base64.StdEncoding.DecodeString(policy); err != nil {
			return Result{}, apierror.BadRequest(fmt.Errorf("invalid policy field: %w", err))
		}

		accessKey, credDate, region, err := parseCredentialString(credential)
		if err != nil {
			return Result{}, apierror.BadRequest(err)
		}
		secret, err := secrets.Secret(accessKey)
		if err != nil {
			return Result{}, apierror.Forbidden(fmt.Errorf("unknown access key: %w", err))
		}

		// The multipart signature covers the policy string verbatim —
		// no canonicalization, unlike header/query mode.
		computed := sigv4.Sign(secret, credDate, region, policy)
		if !sigv4.Equal(computed, signature) {
			return Result{}, apierror.Forbidden(fmt.Errorf("signature mismatch"))
		}
		identity = AccessKey(accessKey)
	}

	body, err := writer.Finalize()
	if err != nil {
		return Result{}, apierror.Internal(fmt.Errorf("finalize body: %w", err))
	}

	return Result{Identity: identity, Body: body, Additional: additional}, nil
}

func parseCredentialString(s string) (accessKey, date, region string, err error) {
	accessKey, date, region, err = sigv4.ParseCredentialScope(s)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid x-amz-credential %q: %w", s, err)
	}
	return accessKey, date, region, nil
}
