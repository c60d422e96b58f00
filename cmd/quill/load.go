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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/config/provider"
)

const defaultConfigFile = "quill.yaml"

// loadConfig resolves the configuration for a command.
//
// An explicit --config is loaded through the chosen provider. Without one,
// remote providers read provider.DefaultKey and the file provider uses
// ./quill.yaml if present, otherwise the built-in defaults. The returned
// loader is nil for defaults and must be closed otherwise.
func loadConfig(ctx context.Context, cli *CLI, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	typ, err := provider.ParseType(cli.Provider)
	if err != nil {
		return nil, nil, err
	}

	path := cli.Config
	if path == "" && typ == provider.TypeFile {
		if !fileExists(defaultConfigFile) {
			_ = config.LoadDotEnv()
			slog.Debug("No config file, using defaults")
			return config.Default(), nil, nil
		}
		path = defaultConfigFile
	}
	if typ == provider.TypeFile {
		if err := config.LoadDotEnvForConfig(path); err != nil {
			return nil, nil, err
		}
	}

	p, err := provider.New(provider.ProviderConfig{
		Type:      typ,
		Path:      path,
		Endpoints: cli.Endpoints,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	opts = append([]config.LoaderOption{config.WithLoaderLogger(slog.Default().With("provider", string(typ)))}, opts...)
	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	slog.Debug("Configuration loaded", "provider", typ, "path", path)
	return cfg, loader, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
