// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/quill/pkg/config"
)

// NewStoreFromConfig creates the Store named by rate_limiting.backend.
// SQL stores share their connection through pool.
//
// Example config:
//
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./data/quill.db
//
//	rate_limiting:
//	  backend: sql
//	  database: default
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	rl := &cfg.RateLimiting

	switch rl.Backend {
	case config.BackendSQL:
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL rate limit backend")
		}
		db, dbCfg, err := pool.Named(cfg, rl.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}
		store, err := NewSQLStore(db, dbCfg.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL store: %w", err)
		}
		return store, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     rl.Redis.Addr,
			Username: rl.Redis.Username,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		})
		return NewRedisStore(rdb, WithRedisPrefix(rl.Redis.Prefix), WithOwnedClient())

	case config.BackendMemory, "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", rl.Backend)
	}
}

// NewLimiterFromConfig creates a Limiter over the configured store.
// It returns nil when rate limiting is disabled.
func NewLimiterFromConfig(cfg *config.Config, pool *config.DBPool, opts ...Option) (*Limiter, error) {
	if !cfg.RateLimiting.IsEnabled() {
		return nil, nil
	}
	store, err := NewStoreFromConfig(cfg, pool)
	if err != nil {
		return nil, err
	}
	return NewLimiter(store, opts...), nil
}

// RouteFromConfig resolves the Rule and KeyScheme for a named route.
func RouteFromConfig(cfg *config.RateLimitConfig, route string) (Rule, KeyScheme, error) {
	r := cfg.Rule(route)
	if r == nil {
		return Rule{}, KeyScheme{}, fmt.Errorf("no rate limit rule for route %q", route)
	}

	rule := Rule{MaxRequests: r.MaxRequests, Window: r.Window}
	if err := rule.Validate(); err != nil {
		return Rule{}, KeyScheme{}, fmt.Errorf("route %q: %w", route, err)
	}

	scheme, err := KeySchemeByName(r.KeyScheme, route)
	if err != nil {
		return Rule{}, KeyScheme{}, fmt.Errorf("route %q: %w", route, err)
	}
	return rule, scheme, nil
}
