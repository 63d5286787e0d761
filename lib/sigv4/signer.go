// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// DeriveSigningKey runs the four chained HMAC-SHA256 steps:
// kDate = HMAC("AWS4"+secret, date); kRegion = HMAC(kDate, region);
// kService = HMAC(kRegion, "s3"); kSigning = HMAC(kService,
// "aws4_request").
func DeriveSigningKey(secret, date, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(Service))
	return hmacSHA256(kService, []byte(Terminator))
}

// Sign derives the signing key for secret/date/region and returns the
// lowercase hex HMAC-SHA256 of stringToSign under that key.
func Sign(secret, date, region, stringToSign string) string {
	signingKey := DeriveSigningKey(secret, date, region)
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

// Equal performs a constant-time comparison of two hex signatures.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
