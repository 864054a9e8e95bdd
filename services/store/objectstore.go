// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ObjectStore holds raw artifact bodies. Keys are opaque storage refs
// recorded on ArtifactVersion rows.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// =============================================================================
// Filesystem implementation
// =============================================================================

// FSObjectStore keeps bodies under a root directory. Used by tests and
// single-node deployments.
type FSObjectStore struct {
	root string
}

func NewFSObjectStore(root string) (*FSObjectStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &FSObjectStore{root: root}, nil
}

// path flattens the key; storage refs never contain path separators the
// caller expects to survive.
func (s *FSObjectStore) path(key string) string {
	return filepath.Join(s.root, strings.ReplaceAll(key, "/", "_"))
}

func (s *FSObjectStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	f, err := os.Create(s.path(key))
	if err != nil {
		return fmt.Errorf("create object %s: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

func (s *FSObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (s *FSObjectStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var _ ObjectStore = (*FSObjectStore)(nil)

// =============================================================================
// GCS implementation
// =============================================================================

// GCSObjectStore holds bodies in a Cloud Storage bucket.
type GCSObjectStore struct {
	bucket *gcs.BucketHandle
}

func NewGCSObjectStore(ctx context.Context, bucketName string) (*GCSObjectStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSObjectStore{bucket: client.Bucket(bucketName)}, nil
}

func (s *GCSObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

func (s *GCSObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return r, nil
}

func (s *GCSObjectStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

var _ ObjectStore = (*GCSObjectStore)(nil)
