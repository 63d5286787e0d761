// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sigv4 builds AWS Signature Version 4 canonical requests and
// string-to-sign values, derives signing keys, and parses the
// Authorization header and presigned-URL query parameters into a
// structured Credential.
package sigv4

import "strings"

// EmptyStringSHA256 is the hex SHA-256 digest of the empty string, used
// as the payload hash for requests with no body.
const EmptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const (
	Algorithm        = "AWS4-HMAC-SHA256"
	AlgorithmChunked = "AWS4-HMAC-SHA256-PAYLOAD"
	Terminator       = "aws4_request"
	Service          = "s3"
)

// DateFormat is the strict basic ISO 8601 layout SigV4 timestamps use.
const DateFormat = "20060102T150405Z"

// ContentSHA256 is the parsed form of the x-amz-content-sha256 header.
type ContentSHA256 struct {
	kind contentKind
	hash string // populated only for kindHex
}

type contentKind int

const (
	kindUnsignedPayload contentKind = iota
	kindStreamingUnsignedPayloadTrailer
	kindStreamingAws4HmacSha256Payload
	kindStreamingAws4HmacSha256PayloadTrailer
	kindHex
)

var (
	UnsignedPayload                         = ContentSHA256{kind: kindUnsignedPayload}
	StreamingUnsignedPayloadTrailer          = ContentSHA256{kind: kindStreamingUnsignedPayloadTrailer}
	StreamingAws4HmacSha256Payload           = ContentSHA256{kind: kindStreamingAws4HmacSha256Payload}
	StreamingAws4HmacSha256PayloadTrailer    = ContentSHA256{kind: kindStreamingAws4HmacSha256PayloadTrailer}
)

// ParseContentSHA256 maps the literal header value to a ContentSHA256.
// An empty or missing header defaults to UnsignedPayload, matching the
// header-mode extractor's fallback.
func ParseContentSHA256(v string) ContentSHA256 {
	switch v {
	case "", "UNSIGNED-PAYLOAD":
		return UnsignedPayload
	case "STREAMING-UNSIGNED-PAYLOAD-TRAILER":
		return StreamingUnsignedPayloadTrailer
	case "STREAMING-AWS4-HMAC-SHA256-PAYLOAD":
		return StreamingAws4HmacSha256Payload
	case "STREAMING-AWS4-HMAC-SHA256-PAYLOAD-TRAILER":
		return StreamingAws4HmacSha256PayloadTrailer
	default:
		return ContentSHA256{kind: kindHex, hash: strings.ToLower(v)}
	}
}

// Hex returns the literal hash and true when v carries one (the Hex
// variant); otherwise ("", false).
func (v ContentSHA256) Hex() (string, bool) {
	if v.kind == kindHex {
		return v.hash, true
	}
	return "", false
}

// Chunked reports whether v is one of the Streaming* variants.
func (v ContentSHA256) Chunked() bool {
	switch v.kind {
	case kindStreamingUnsignedPayloadTrailer, kindStreamingAws4HmacSha256Payload, kindStreamingAws4HmacSha256PayloadTrailer:
		return true
	default:
		return false
	}
}

// Trailer reports whether v is one of the two ...Trailer variants.
func (v ContentSHA256) Trailer() bool {
	switch v.kind {
	case kindStreamingUnsignedPayloadTrailer, kindStreamingAws4HmacSha256PayloadTrailer:
		return true
	default:
		return false
	}
}

// Unsigned reports whether v is UnsignedPayload or one of the
// streaming-unsigned variants.
func (v ContentSHA256) Unsigned() bool {
	switch v.kind {
	case kindUnsignedPayload, kindStreamingUnsignedPayloadTrailer:
		return true
	default:
		return false
	}
}

// Payload is the resolved descriptor fed to the canonicalizer: the
// request either carries no signed body content (Unsigned), a single
// hashed chunk (SingleChunk), a signed chunk stream (MultipleChunks),
// or an empty body (Empty).
type Payload struct {
	kind payloadKind
	hash string // for SingleChunk
}

type payloadKind int

const (
	PayloadUnsigned payloadKind = iota
	PayloadSingleChunk
	PayloadMultipleChunks
	PayloadEmpty
)

func NewUnsignedPayload() Payload       { return Payload{kind: PayloadUnsigned} }
func NewMultipleChunksPayload() Payload { return Payload{kind: PayloadMultipleChunks} }
func NewEmptyPayload() Payload          { return Payload{kind: PayloadEmpty} }
func NewSingleChunkPayload(hexSHA256 string) Payload {
	return Payload{kind: PayloadSingleChunk, hash: hexSHA256}
}

// Token returns the literal string C1 places at the end of the
// canonical request for this payload.
func (p Payload) Token() string {
	switch p.kind {
	case PayloadUnsigned:
		return "UNSIGNED-PAYLOAD"
	case PayloadMultipleChunks:
		return "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"
	case PayloadEmpty:
		return EmptyStringSHA256
	case PayloadSingleChunk:
		return p.hash
	default:
		return "UNSIGNED-PAYLOAD"
	}
}
