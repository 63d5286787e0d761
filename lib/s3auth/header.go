// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package s3auth

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusfs/gateway/lib/apierror"
	"github.com/nimbusfs/gateway/lib/sigv4"
)

// HeaderRequest is the slice of an incoming request HeaderAuth needs.
// Headers is lowercase-keyed with header folding already applied by
// the caller's HTTP stack; its "date" entry, the standard Date header,
// is used only when x-amz-date is absent or unparseable.
type HeaderRequest struct {
	Method   string
	Path     string
	RawQuery string
	Headers  map[string]string
	Body     io.Reader
}

// HeaderAuth performs end-to-end verification for requests
// whose body is absent, single-chunk, unsigned, or aws-chunked.
func HeaderAuth(req HeaderRequest, secrets SecretResolver, newWriter func() (BodyWriter, error)) (Result, error) {
	authHeader, hasAuth := req.Headers["authorization"]
	contentSHA256 := sigv4.ParseContentSHA256(req.Headers["x-amz-content-sha256"])

	if !contentSHA256.Unsigned() && !hasAuth {
		return Result{}, apierror.Forbidden(fmt.Errorf("signed payload type requires authorization header"))
	}

	timestamp := resolveTimestamp(req.Headers)

	var cred sigv4.Credential
	if hasAuth {
		var err error
		cred, err = sigv4.ParseHeader(authHeader)
		if err != nil {
			return Result{}, apierror.BadRequest(err)
		}
		if err := sigv4.ValidateSignedHeaderCoverage(req.Headers, cred.SignedHeaders); err != nil {
			return Result{}, apierror.BadRequest(err)
		}
	}

	writer, err := newWriter()
	if err != nil {
		return Result{}, apierror.Internal(fmt.Errorf("create body writer: %w", err))
	}

	var payload sigv4.Payload
	chunked := contentSHA256.Chunked()
	if chunked {
		payload = sigv4.NewMultipleChunksPayload()
	} else {
		h := sha256.New()
		if _, err := io.Copy(io.MultiWriter(h, writer), req.Body); err != nil {
			return Result{}, apierror.Internal(fmt.Errorf("read request body: %w", err))
		}
		hexHash := hex.EncodeToString(h.Sum(nil))
		if contentSHA256.Unsigned() {
			payload = sigv4.NewUnsignedPayload()
		} else {
			payload = sigv4.NewSingleChunkPayload(hexHash)
		}
	}

	canonReq := sigv4.Request{
		Method:        req.Method,
		Path:          req.Path,
		RawQuery:      req.RawQuery,
		Headers:       req.Headers,
		SignedHeaders: cred.SignedHeaders,
	}

	var seedSignature string
	if hasAuth {
		secret, err := secrets.Secret(cred.AccessKey)
		if err != nil {
			return Result{}, apierror.Forbidden(fmt.Errorf("unknown access key: %w", err))
		}
		cr := sigv4.CanonicalRequest(canonReq, payload)
		sts := sigv4.StringToSign(timestamp.Format(sigv4.DateFormat), cred.Scope(), cr)
		signature := sigv4.Sign(secret, cred.Date, cred.Region, sts)
		if !sigv4.Equal(signature, cred.Signature) {
			return Result{}, apierror.Forbidden(fmt.Errorf("signature mismatch"))
		}
		seedSignature = signature

		if chunked {
			if err := verifyChunkedBody(req.Body, writer, chunkVerifyParams{
				secret:          secret,
				cred:            cred,
				timestamp:       timestamp.Format(sigv4.DateFormat),
				seedSignature:   seedSignature,
				authPresent:     true,
				trailerExpected: contentSHA256.Trailer(),
				decodedLength:   req.Headers["x-amz-decoded-content-length"],
				encoding:        req.Headers["content-encoding"],
			}); err != nil {
				return Result{}, err
			}
		}
	} else if chunked {
		if err := verifyChunkedBody(req.Body, writer, chunkVerifyParams{
			timestamp:       timestamp.Format(sigv4.DateFormat),
			authPresent:     false,
			trailerExpected: contentSHA256.Trailer(),
			decodedLength:   req.Headers["x-amz-decoded-content-length"],
			encoding:        req.Headers["content-encoding"],
		}); err != nil {
			return Result{}, err
		}
	}

	body, err := writer.Finalize()
	if err != nil {
		return Result{}, apierror.Internal(fmt.Errorf("finalize body: %w", err))
	}

	identity := Anonymous()
	if hasAuth {
		identity = AccessKey(cred.AccessKey)
	}
	return Result{Identity: identity, Body: body}, nil
}

// resolveTimestamp implements the request timestamp fallback chain:
// x-amz-date, then the standard Date header, then wall clock.
func resolveTimestamp(headers map[string]string) time.Time {
	if v, ok := headers["x-amz-date"]; ok {
		if t, err := time.Parse(sigv4.DateFormat, v); err == nil {
			return t
		}
	}
	if v, ok := headers["date"]; ok {
		if t, err := time.Parse(time.RFC1123, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

type chunkVerifyParams struct {
	secret          string
	cred            sigv4.Credential
	timestamp       string
	seedSignature   string
	authPresent     bool
	trailerExpected bool
	decodedLength   string
	encoding        string
}

// verifyChunkedBody implements the aws-chunked frame parser: a
// stream-friendly reader over `<hex-len>;chunk-signature=<hex>\r\n
// <len bytes>\r\n` frames terminated by a zero-length frame, with an
// optional trailing `name:value\nx-amz-trailer-signature:<hex>\n`.
func verifyChunkedBody(r io.Reader, w io.Writer, p chunkVerifyParams) error {
	if !strings.Contains(p.encoding, "aws-chunked") {
		return apierror.BadRequest(fmt.Errorf("Content-Encoding must be aws-chunked"))
	}
	declaredLength, err := strconv.ParseInt(p.decodedLength, 10, 64)
	if err != nil {
		return apierror.BadRequest(fmt.Errorf("invalid x-amz-decoded-content-length: %w", err))
	}

	br := bufio.NewReader(r)
	previousSignature := p.seedSignature
	var bytesWritten int64

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return apierror.BadRequest(fmt.Errorf("read chunk header: %w", err))
		}
		line = strings.TrimRight(line, "\r\n")

		semi := strings.IndexByte(line, ';')
		if semi < 0 {
			return apierror.BadRequest(fmt.Errorf("malformed chunk header %q", line))
		}
		length, err := strconv.ParseInt(line[:semi], 16, 64)
		if err != nil {
			return apierror.BadRequest(fmt.Errorf("invalid chunk length in %q", line))
		}
		sigValue, ok := strings.CutPrefix(line[semi+1:], "chunk-signature=")
		if !ok {
			return apierror.BadRequest(fmt.Errorf("missing chunk-signature in %q", line))
		}

		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(br, data); err != nil {
				return apierror.Internal(fmt.Errorf("read chunk body: %w", err))
			}
		}
		var crlf [2]byte
		if _, err := io.ReadFull(br, crlf[:]); err != nil {
			return apierror.Internal(fmt.Errorf("read chunk terminator: %w", err))
		}
		if crlf != [2]byte{'\r', '\n'} {
			return apierror.BadRequest(fmt.Errorf("invalid chunk ending"))
		}

		if p.authPresent {
			sts := sigv4.ChunkStringToSign(p.timestamp, p.cred.Scope(), previousSignature, data)
			signature := sigv4.Sign(p.secret, p.cred.Date, p.cred.Region, sts)
			if !sigv4.Equal(signature, sigValue) {
				return apierror.Forbidden(fmt.Errorf("chunk signature mismatch"))
			}
			previousSignature = signature
		}

		if length > 0 {
			if _, err := w.Write(data); err != nil {
				return apierror.Internal(fmt.Errorf("write chunk: %w", err))
			}
		}
		bytesWritten += length

		if length == 0 {
			break
		}
	}

	if bytesWritten != declaredLength {
		return apierror.BadRequest(fmt.Errorf("decoded content length mismatch: wrote %d, declared %d", bytesWritten, declaredLength))
	}

	if !p.trailerExpected {
		return nil
	}

	headerLine, err := br.ReadString('\n')
	if err != nil {
		return apierror.BadRequest(fmt.Errorf("read trailer header: %w", err))
	}
	sigLine, err := br.ReadString('\n')
	if err != nil {
		return apierror.BadRequest(fmt.Errorf("read trailer signature: %w", err))
	}

	headerParts := strings.SplitN(strings.TrimSuffix(headerLine, "\n"), ":", 2)
	if len(headerParts) != 2 {
		return apierror.BadRequest(fmt.Errorf("invalid trailer header"))
	}
	headerName := strings.TrimSpace(headerParts[0])
	headerValue := strings.TrimSpace(headerParts[1])

	if p.authPresent {
		sigParts := strings.SplitN(strings.TrimSuffix(sigLine, "\n"), ":", 2)
		if len(sigParts) != 2 || strings.TrimSpace(sigParts[0]) != "x-amz-trailer-signature" {
			return apierror.BadRequest(fmt.Errorf("invalid trailer signature line"))
		}
		expectedSignature := strings.TrimSpace(sigParts[1])

		sts := sigv4.TrailerStringToSign(p.timestamp, p.cred.Scope(), previousSignature,
			fmt.Sprintf("%s:%s\n", headerName, headerValue))
		signature := sigv4.Sign(p.secret, p.cred.Date, p.cred.Region, sts)
		if !sigv4.Equal(signature, expectedSignature) {
			return apierror.Forbidden(fmt.Errorf("trailer signature mismatch"))
		}
	}

	return nil
}
