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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/quill/pkg/config/provider"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrUnknownSection is returned when a config document has a top-level key
// quill does not know. A misspelled "rate_limit:" would otherwise be
// silently ignored and the defaults used instead.
var ErrUnknownSection = errors.New("unknown config section")

// Loader loads and watches configuration from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
	logger   *slog.Logger

	mu      sync.Mutex
	current *Config
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked with every successfully reloaded
// config.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// WithLoaderLogger sets the logger for reload events.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider: p,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the document, expands environment references, applies
// defaults and validates. An empty document yields Default().
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from %s provider: %w", l.provider.Type(), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Parse turns a YAML or JSON document into a validated Config.
func Parse(data []byte) (*Config, error) {
	raw, err := parseBytes(data)
	if err != nil {
		return nil, err
	}
	if err := checkSections(raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := decodeConfig(expandValue(raw), cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch reloads on every provider change and hands the result to the
// OnChange callback. A document that fails to parse or validate is logged
// and the running config is kept. Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	if changes == nil {
		l.logger.Info("Config watching not supported by provider", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	l.logger.Info("Watching config for changes", "type", l.provider.Type())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	prev := l.Current()
	next, err := l.Load(ctx)
	if err != nil {
		l.logger.Error("Config reload rejected, keeping running config", "error", err)
		return
	}

	if fixed := RestartRequired(prev, next); len(fixed) > 0 {
		l.logger.Warn("Reloaded config changes sections that only apply on restart",
			"sections", strings.Join(fixed, ","))
	}
	l.logger.Info("Configuration reloaded")
	if l.onChange != nil {
		l.onChange(next)
	}
}

// Current returns the last successfully loaded config.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) Close() error {
	return l.provider.Close()
}

// restartSections are bound when the runtime is assembled: connection pools,
// stores, the listener and the telemetry exporters. Rate limit rules, quota
// limits and body limits are read per request and apply on reload.
var restartSections = []struct {
	name string
	get  func(*Config) any
}{
	{"databases", func(c *Config) any { return c.Databases }},
	{"rate_limiting.backend", func(c *Config) any {
		return [3]any{c.RateLimiting.Backend, c.RateLimiting.Database, c.RateLimiting.Redis}
	}},
	{"quota.backend", func(c *Config) any {
		return [3]any{c.Quota.Backend, c.Quota.Database, c.Quota.IsAtomic()}
	}},
	{"jobs", func(c *Config) any { return c.Jobs }},
	{"offers", func(c *Config) any { return c.Offers }},
	{"pipeline", func(c *Config) any { return c.Pipeline }},
	{"renderer", func(c *Config) any { return c.Renderer }},
	{"storage", func(c *Config) any { return c.Storage }},
	{"server.address", func(c *Config) any { return c.Server.Address() }},
	{"observability", func(c *Config) any { return c.Observability }},
}

// RestartRequired lists the sections that differ between prev and next but
// are only read at startup. A nil prev reports nothing.
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	for _, s := range restartSections {
		if !reflect.DeepEqual(s.get(prev), s.get(next)) {
			out = append(out, s.name)
		}
	}
	return out
}

// Sections returns the valid top-level keys.
func Sections() []string {
	t := reflect.TypeOf(Config{})
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag != "" && tag != "-" {
			names = append(names, tag)
		}
	}
	sort.Strings(names)
	return names
}

func checkSections(raw map[string]any) error {
	valid := make(map[string]bool)
	for _, s := range Sections() {
		valid[s] = true
	}
	var unknown []string
	for k := range raw {
		if !valid[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s (valid: %s)", ErrUnknownSection,
		strings.Join(unknown, ", "), strings.Join(Sections(), ", "))
}

// parseBytes accepts YAML, and JSON for providers that store JSON blobs.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}

	yamlErr := yaml.Unmarshal(data, &result)
	if yamlErr == nil {
		if result == nil {
			result = map[string]any{}
		}
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("config is neither valid YAML nor JSON: %w", yamlErr)
	}
	return result, nil
}

func decodeConfig(input any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// expandValue walks the decoded document and expands environment
// references in every string. Secrets such as worker_secret and database
// passwords are usually supplied this way.
func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return os.Expand(val, lookupEnv)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

// lookupEnv resolves NAME and NAME:-default. The default applies when NAME
// is unset or empty.
func lookupEnv(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v := os.Getenv(name); v != "" || !hasDefault {
		return v
	}
	return def
}

// LoadConfig creates a provider and loads through it.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}

	return cfg, loader, nil
}

// LoadConfigFile loads a file after reading the .env next to it.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	if err := LoadDotEnvForConfig(path); err != nil {
		return nil, nil, err
	}
	return LoadConfig(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}
