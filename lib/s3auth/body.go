// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package s3auth verifies SigV4 credentials on incoming S3 requests —
// header mode, query (presigned URL) mode, and multipart POST mode —
// and exposes the verified payload through a small body-writer
// capability.
package s3auth

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

// Body is the finalized result of a BodyWriter: a memory buffer, a
// handle to a temp file on disk, a decoded XML value, or nothing at
// all (Discard).
type Body interface {
	isBody()
}

// BodyWriter accepts the verified payload as it streams in, then
// finalizes into a Body. Every implementation is safe to Write from a
// single goroutine only — the chunked parser owns the writer for the
// lifetime of one request.
type BodyWriter interface {
	io.Writer
	Finalize() (Body, error)
}

// NewDataDirWriter is the uniform constructor every auth mode calls:
// temp files live under dataDir/tmp, and kind picks the implementation.
func NewDataDirWriter(kind BodyKind, dataDir string) (BodyWriter, error) {
	switch kind {
	case KindDiscard:
		return DiscardWriter{}, nil
	case KindMemory:
		return &MemoryWriter{}, nil
	case KindTempFile:
		return NewFileWriter(dataDir)
	default:
		return nil, fmt.Errorf("s3auth: unknown body kind %d", kind)
	}
}

// BodyKind selects a BodyWriter implementation for NewDataDirWriter.
// XML bodies are constructed directly via NewXMLWriter since they need
// a type parameter NewDataDirWriter can't carry.
type BodyKind int

const (
	KindDiscard BodyKind = iota
	KindMemory
	KindTempFile
)

// DiscardWriter wants no body at all; both operations are no-ops.
type DiscardWriter struct{}

func (DiscardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (DiscardWriter) Finalize() (Body, error)     { return discardBody{}, nil }

type discardBody struct{}

func (discardBody) isBody() {}

// MemoryWriter appends bytes to a growable in-memory buffer.
type MemoryWriter struct {
	buf bytes.Buffer
}

func (w *MemoryWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *MemoryWriter) Finalize() (Body, error) {
	return MemoryBody(w.buf.Bytes()), nil
}

// MemoryBody is the finalized form of a MemoryWriter.
type MemoryBody []byte

func (MemoryBody) isBody() {}

// FileWriter creates a uniquely named file under dataDir/tmp and
// appends to it. Go has no destructors, so the delete-on-drop
// guarantee is modeled the way io.Closer types are conventionally used
// (os.File, http.Response.Body): an explicit Close/Abort the caller
// must invoke on every exit path, backed by a runtime.SetFinalizer
// safety net in case a caller forgets.
type FileWriter struct {
	f         *os.File
	path      string
	finalized bool
}

// NewFileWriter creates the temp file under dataDir/tmp with a unique
// name, using O_CREATE|O_EXCL so two writers can never collide.
func NewFileWriter(dataDir string) (*FileWriter, error) {
	dir := filepath.Join(dataDir, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("s3auth: create tmp dir: %w", err)
	}
	path := filepath.Join(dir, "gateway-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("s3auth: create temp file: %w", err)
	}
	w := &FileWriter{f: f, path: path}
	runtime.SetFinalizer(w, func(w *FileWriter) { w.Abort() })
	return w, nil
}

func (w *FileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

// Finalize flushes and closes the file, disarms the delete-on-drop
// hook, and returns a FileBody pointing at the finished file.
func (w *FileWriter) Finalize() (Body, error) {
	if err := w.f.Sync(); err != nil {
		return nil, fmt.Errorf("s3auth: sync temp file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return nil, fmt.Errorf("s3auth: close temp file: %w", err)
	}
	w.finalized = true
	return &FileBody{path: w.path}, nil
}

// Abort removes the temp file if Finalize never ran. Safe to call more
// than once; a no-op once Finalize has succeeded.
func (w *FileWriter) Abort() {
	runtime.SetFinalizer(w, nil)
	if w.finalized {
		return
	}
	w.f.Close()
	os.Remove(w.path)
}

// FileBody is the finalized form of a FileWriter: a path to a file on
// disk that the holder must Close to remove.
type FileBody struct {
	path    string
	removed bool
}

func (*FileBody) isBody() {}

// Path returns the underlying file's path.
func (b *FileBody) Path() string { return b.path }

// Close removes the underlying file. Safe to call more than once.
func (b *FileBody) Close() error {
	if b.removed {
		return nil
	}
	b.removed = true
	return os.Remove(b.path)
}

// XMLWriter buffers bytes in memory and deserializes them into a T on
// Finalize.
type XMLWriter[T any] struct {
	buf bytes.Buffer
}

func NewXMLWriter[T any]() *XMLWriter[T] { return &XMLWriter[T]{} }

func (w *XMLWriter[T]) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *XMLWriter[T]) Finalize() (Body, error) {
	var v T
	if err := xml.Unmarshal(w.buf.Bytes(), &v); err != nil {
		return nil, fmt.Errorf("s3auth: decode xml body: %w", err)
	}
	return XMLBody[T]{Value: v}, nil
}

// XMLBody is the finalized form of an XMLWriter[T].
type XMLBody[T any] struct {
	Value T
}

func (XMLBody[T]) isBody() {}

// FinalizeOptional calls w.Finalize and treats any error as "absent"
// rather than propagating it, matching the Option<T> wrapper's
// "finalization failure is not an error" rule — useful for XML bodies
// that are tolerated when missing.
func FinalizeOptional(w BodyWriter) (Body, bool) {
	b, err := w.Finalize()
	if err != nil {
		return nil, false
	}
	return b, true
}
