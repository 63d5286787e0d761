// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package s3api routes authenticated S3 object-service requests to an
// out-of-scope storage backend. Bucket/object CRUD and on-disk layout
// are a named collaborator, not something this module implements; this
// package owns only the SigV4 gate (lib/s3auth) and the operation
// dispatch in front of it.
package s3api

import (
	"context"
	"io"
)

// ObjectMeta is the subset of per-object metadata the auth core needs
// to hand back on a GET/HEAD: size and a content type good enough for
// the response header. A real backend will carry far more (ETag,
// storage class, user metadata); this interface only names what a
// handler here touches.
type ObjectMeta struct {
	Size        int64
	ContentType string
}

// ObjectStore is the contract the on-disk storage backend satisfies.
// It is named here purely as a wiring seam — per spec, bucket/object
// CRUD and directory layout are out of scope for this module.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)

	PutObject(ctx context.Context, bucket, key string, body io.Reader) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectMeta, error)
	HeadObject(ctx context.Context, bucket, key string) (ObjectMeta, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// nopStore is a no-op ObjectStore: GetObject and HeadObject report
// not-found, BucketExists reports true, ListObjects returns no keys,
// and every write succeeds without persisting anything. It exists so this
// package's router and its tests can run without a real storage
// backend wired in, exactly as STORAGE_TYPE=no-raid names the only
// backend variant without this module implementing it.
type nopStore struct{}

// NewNopStore returns an ObjectStore that performs no I/O: writes are
// accepted and discarded, object reads return an apierror NotFound
// error. Useful for wiring
// the S3 listener before a real backend exists, and for exercising the
// router in tests.
func NewNopStore() ObjectStore { return nopStore{} }

func (nopStore) CreateBucket(context.Context, string) error { return nil }
func (nopStore) DeleteBucket(context.Context, string) error { return nil }

func (nopStore) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (nopStore) PutObject(_ context.Context, _, _ string, body io.Reader) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (nopStore) GetObject(context.Context, string, string) (io.ReadCloser, ObjectMeta, error) {
	return nil, ObjectMeta{}, errObjectNotFound
}

func (nopStore) HeadObject(context.Context, string, string) (ObjectMeta, error) {
	return ObjectMeta{}, errObjectNotFound
}

func (nopStore) DeleteObject(context.Context, string, string) error { return nil }

func (nopStore) ListObjects(context.Context, string, string) ([]string, error) {
	return nil, nil
}
