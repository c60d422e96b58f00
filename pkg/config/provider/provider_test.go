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

package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"":          TypeFile,
		"file":      TypeFile,
		"consul":    TypeConsul,
		"etcd":      TypeEtcd,
		"zk":        TypeZookeeper,
		"zookeeper": TypeZookeeper,
		" Consul ":  TypeConsul,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseType("vault")
	assert.ErrorContains(t, err, "valid: file, consul")

	assert.True(t, TypeEtcd.IsRemote())
	assert.False(t, TypeFile.IsRemote())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ProviderConfig{})
	assert.ErrorContains(t, err, "path is required")

	_, err = New(ProviderConfig{Type: "vault", Path: "x"})
	assert.Error(t, err)

	_, err = New(ProviderConfig{Type: TypeEtcd, Path: "quill/config"})
	assert.ErrorContains(t, err, "endpoints are required")

	_, err = New(ProviderConfig{Type: TypeZookeeper, Path: "/quill"})
	assert.ErrorContains(t, err, "endpoints are required")

	_, err = NewConsulProvider(nil, "/")
	assert.ErrorContains(t, err, "key is required")

	p, err := New(ProviderConfig{Type: TypeConsul, Endpoints: []string{"127.0.0.1:8500"}})
	require.NoError(t, err, "remote providers default the key")
	defer p.Close()
	assert.Equal(t, DefaultKey, p.(*ConsulProvider).key)
}

func TestNew_Consul(t *testing.T) {
	p, err := New(ProviderConfig{Type: TypeConsul, Path: "/quill/config", Endpoints: []string{"127.0.0.1:8500"}})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, TypeConsul, p.Type())
	assert.Equal(t, "quill/config", p.(*ConsulProvider).key)
}

func TestFileProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	p, err := New(ProviderConfig{Path: path})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, TypeFile, p.Type())
	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 9000")

	missing, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	_, err = missing.Load(context.Background())
	assert.Error(t, err)
}

func TestFileProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signalled")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileProvider_WatchAfterClose(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "quill.yaml"))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Watch(context.Background())
	assert.Error(t, err)
}

func TestFileProvider_IgnoresUnchangedRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))
	select {
	case <-changes:
		t.Fatal("unchanged content signalled")
	case <-time.After(3 * fileDebounce):
	}

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signalled")
	}
}

func TestFileProvider_WatchFollowsSymlinkSwap(t *testing.T) {
	dir := t.TempDir()
	write := func(version, body string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, version), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, version, "quill.yaml"), []byte(body), 0o600))
	}

	// Layout of a mounted ConfigMap: quill.yaml -> ..data/quill.yaml,
	// ..data -> the current version directory.
	write("v1", "a: 1\n")
	require.NoError(t, os.Symlink("v1", filepath.Join(dir, "..data")))
	require.NoError(t, os.Symlink(filepath.Join("..data", "quill.yaml"), filepath.Join(dir, "quill.yaml")))

	p, err := NewFileProvider(filepath.Join(dir, "quill.yaml"))
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	write("v2", "a: 2\n")
	require.NoError(t, os.Symlink("v2", filepath.Join(dir, "..data_tmp")))
	require.NoError(t, os.Rename(filepath.Join(dir, "..data_tmp"), filepath.Join(dir, "..data")))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("symlink swap not signalled")
	}

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a: 2\n", string(data))
}
