// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage holds rendered PDFs under caller-chosen paths.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when nothing is stored at a path.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// ObjectStorage stores objects by path.
type ObjectStorage interface {
	// Put writes data at p, replacing any existing object.
	Put(ctx context.Context, p string, data []byte, contentType string) error

	// Get reads the object at p, or returns ErrNotFound.
	Get(ctx context.Context, p string) ([]byte, error)

	// Delete removes the object at p. Deleting a missing object succeeds.
	Delete(ctx context.Context, p string) error

	// PublicURL returns the URL clients download the object from.
	PublicURL(p string) string
}

var (
	_ ObjectStorage = (*FileStorage)(nil)
	_ ObjectStorage = (*MemoryStorage)(nil)
)

// CleanPath normalizes p and rejects paths leaving the storage root.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

func joinURL(base, p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/")
}
