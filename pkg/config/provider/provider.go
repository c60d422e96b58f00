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

// Package provider defines where configuration bytes come from.
//
// A provider loads raw YAML or JSON from a file or a key in Consul, etcd or
// ZooKeeper and signals when that source changes. Signals are hints: the
// loader re-reads and re-validates the whole document on each one.
package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

const (
	// DefaultDialTimeout bounds the initial connection to a remote provider.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKey is read from remote providers when no key is given.
	DefaultKey = "quill/config"
)

// ParseType converts a --provider value to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type %q (valid: file, consul, etcd, zookeeper)", s)
	}
}

// IsRemote reports whether t reads from a key-value store.
func (t Type) IsRemote() bool {
	return t == TypeConsul || t == TypeEtcd || t == TypeZookeeper
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source changes.
	// The channel is closed when ctx is cancelled.
	// A nil channel means watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	Type Type

	// Path is the file path, or the key for remote providers. Remote
	// providers default to DefaultKey.
	Path string

	// Endpoints for remote providers.
	Endpoints []string

	// DialTimeout bounds remote connection setup. Default: 10s.
	DialTimeout time.Duration
}

func New(opts ProviderConfig) (Provider, error) {
	if opts.Type == "" {
		opts.Type = TypeFile
	}
	if opts.Path == "" {
		if !opts.Type.IsRemote() {
			return nil, fmt.Errorf("config path is required")
		}
		opts.Path = DefaultKey
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	switch opts.Type {
	case TypeFile:
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path, opts.DialTimeout)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path, opts.DialTimeout)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// notify performs a non-blocking send; a pending signal already covers the change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// digest identifies a document version so unchanged rewrites are not
// signalled.
func digest(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
