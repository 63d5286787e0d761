// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package s3api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/thejerf/suture/v4"

	"github.com/nimbusfs/gateway/lib/apierror"
	"github.com/nimbusfs/gateway/lib/logutil"
	"github.com/nimbusfs/gateway/lib/s3auth"
)

var l = logutil.New("s3api")

var errObjectNotFound = apierror.NotFound(fmt.Errorf("object not found"))

// Service is the path-style S3 object-service listener: every request
// passes through the SigV4 gate (lib/s3auth) before reaching the
// recognized operation.
type Service struct {
	addr    string
	store   ObjectStore
	secrets s3auth.SecretResolver
	dataDir string

	listenerAddr net.Addr
	started      chan string // when non-nil, Serve sends the bound address on it
}

var _ suture.Service = (*Service)(nil)

// New builds an S3 listener bound to addr, dispatching authenticated
// requests to store. PutObject bodies are spooled to a temporary file
// under dataDir/tmp; secrets resolves a SigV4 access key to its secret.
func New(addr string, store ObjectStore, secrets s3auth.SecretResolver, dataDir string) *Service {
	return &Service{addr: addr, store: store, secrets: secrets, dataDir: dataDir}
}

// Handler returns the service's routed HTTP handler without binding a
// listener, for use in tests driven by httptest.NewServer.
func (s *Service) Handler() http.Handler {
	return s.router()
}

func (s *Service) router() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodPut, "/:bucket", s.wrap(s.createBucket, s3auth.KindDiscard))
	r.HandlerFunc(http.MethodDelete, "/:bucket", s.wrap(s.deleteBucket, s3auth.KindDiscard))
	r.HandlerFunc(http.MethodHead, "/:bucket", s.wrap(s.headBucket, s3auth.KindDiscard))
	r.HandlerFunc(http.MethodGet, "/:bucket", s.wrap(s.listObjects, s3auth.KindDiscard))

	r.HandlerFunc(http.MethodPut, "/:bucket/*key", s.wrap(s.putObject, s3auth.KindTempFile))
	r.HandlerFunc(http.MethodGet, "/:bucket/*key", s.wrap(s.getObject, s3auth.KindDiscard))
	r.HandlerFunc(http.MethodHead, "/:bucket/*key", s.wrap(s.headObject, s3auth.KindDiscard))
	r.HandlerFunc(http.MethodDelete, "/:bucket/*key", s.wrap(s.deleteObject, s3auth.KindDiscard))

	return r
}

// opHandler is an S3 operation: authenticated identity plus the parsed
// bucket/key, writing its own response or returning an error for wrap
// to translate into a status code.
type opHandler func(w http.ResponseWriter, r *http.Request, bucket, key string) error

// wrap authenticates r via the SigV4 gate before calling op, and turns
// any returned error into a status-code-with-empty-body response.
// kind selects the body-writer implementation for the request: object
// uploads spill to a temp file, every other operation's body (if any)
// is discarded once its signature has been checked.
func (s *Service) wrap(op opHandler, kind s3auth.BodyKind) http.HandlerFunc {
	newWriter := func() (s3auth.BodyWriter, error) {
		return s3auth.NewDataDirWriter(kind, s.dataDir)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		bucket, key := bucketAndKey(r)

		result, err := s3auth.Authenticate(r, s.secrets, newWriter)
		if err != nil {
			l.Warnln("s3 auth failed:", err)
			apierror.WriteResponse(w, err)
			return
		}
		defer closeBody(result.Body)

		r = withAuthResult(r, result)
		if err := op(w, r, bucket, key); err != nil {
			l.Warnln("s3 operation failed:", err)
			apierror.WriteResponse(w, err)
		}
	}
}

func bucketAndKey(r *http.Request) (bucket, key string) {
	params := httprouter.ParamsFromContext(r.Context())
	bucket = params.ByName("bucket")
	key = strings.TrimPrefix(params.ByName("key"), "/")
	return bucket, key
}

type authResultKey struct{}

func withAuthResult(r *http.Request, res s3auth.Result) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), authResultKey{}, res))
}

func authResultFrom(r *http.Request) s3auth.Result {
	res, _ := r.Context().Value(authResultKey{}).(s3auth.Result)
	return res
}

func closeBody(b s3auth.Body) {
	if fb, ok := b.(*s3auth.FileBody); ok {
		fb.Close()
	}
}

func (s *Service) createBucket(w http.ResponseWriter, r *http.Request, bucket, _ string) error {
	if err := s.store.CreateBucket(r.Context(), bucket); err != nil {
		return apierror.Internal(fmt.Errorf("create bucket %q: %w", bucket, err))
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Service) deleteBucket(w http.ResponseWriter, r *http.Request, bucket, _ string) error {
	if err := s.store.DeleteBucket(r.Context(), bucket); err != nil {
		return apierror.Internal(fmt.Errorf("delete bucket %q: %w", bucket, err))
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Service) headBucket(w http.ResponseWriter, r *http.Request, bucket, _ string) error {
	ok, err := s.store.BucketExists(r.Context(), bucket)
	if err != nil {
		return apierror.Internal(fmt.Errorf("check bucket %q: %w", bucket, err))
	}
	if !ok {
		return apierror.NotFound(fmt.Errorf("bucket %q not found", bucket))
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Service) listObjects(w http.ResponseWriter, r *http.Request, bucket, _ string) error {
	keys, err := s.store.ListObjects(r.Context(), bucket, r.URL.Query().Get("prefix"))
	if err != nil {
		return apierror.Internal(fmt.Errorf("list bucket %q: %w", bucket, err))
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, "<ListBucketResult><Name>%s</Name>", bucket)
	for _, k := range keys {
		fmt.Fprintf(w, "<Contents><Key>%s</Key></Contents>", k)
	}
	fmt.Fprint(w, "</ListBucketResult>")
	return nil
}

func (s *Service) putObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	result := authResultFrom(r)
	fb, ok := result.Body.(*s3auth.FileBody)
	if !ok {
		return apierror.Internal(fmt.Errorf("put object %s/%s: unexpected body type", bucket, key))
	}
	f, err := os.Open(fb.Path())
	if err != nil {
		return apierror.Internal(fmt.Errorf("reopen uploaded body: %w", err))
	}
	defer f.Close()

	if err := s.store.PutObject(r.Context(), bucket, key, f); err != nil {
		return apierror.Internal(fmt.Errorf("put object %s/%s: %w", bucket, key, err))
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Service) getObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	body, meta, err := s.store.GetObject(r.Context(), bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	if _, err := io.CopyN(w, body, meta.Size); err != nil {
		return apierror.Internal(fmt.Errorf("stream object %s/%s: %w", bucket, key, err))
	}
	return nil
}

func (s *Service) headObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	meta, err := s.store.HeadObject(r.Context(), bucket, key)
	if err != nil {
		return err
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Service) deleteObject(w http.ResponseWriter, r *http.Request, bucket, key string) error {
	if err := s.store.DeleteObject(r.Context(), bucket, key); err != nil {
		return apierror.Internal(fmt.Errorf("delete object %s/%s: %w", bucket, key, err))
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Serve runs the S3 listener until ctx is cancelled, at which point it
// drains in-flight requests before returning.
func (s *Service) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("s3api: listen on %s: %w", s.addr, err)
	}
	s.listenerAddr = listener.Addr()
	defer listener.Close()

	srv := &http.Server{Handler: s.router()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	if s.started != nil {
		select {
		case s.started <- listener.Addr().String():
		case <-ctx.Done():
		}
	}

	l.Infoln("s3 API listening on", listener.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("s3api.Service@%s", s.addr)
}
