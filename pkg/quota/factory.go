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

package quota

import (
	"fmt"

	"github.com/kadirpekel/quill/pkg/config"
)

// NewStoreFromConfig creates the counter Store named by quota.backend with
// the atomic capability taken from quota.atomic.
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool) (Store, error) {
	q := &cfg.Quota

	switch q.Backend {
	case config.BackendSQL:
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL quota backend")
		}
		db, dbCfg, err := pool.Named(cfg, q.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}
		store, err := NewSQLStore(db, dbCfg.Dialect(), WithAtomic(q.IsAtomic()))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL store: %w", err)
		}
		return store, nil

	case config.BackendMemory, "":
		return NewMemoryStore(WithAtomicIncrement(q.IsAtomic())), nil

	default:
		return nil, fmt.Errorf("unsupported quota backend: %s", q.Backend)
	}
}

// NewEnforcerFromConfig creates an Enforcer over the configured store.
func NewEnforcerFromConfig(cfg *config.Config, pool *config.DBPool, opts ...Option) (*Enforcer, error) {
	store, err := NewStoreFromConfig(cfg, pool)
	if err != nil {
		return nil, err
	}
	return NewEnforcer(store, opts...), nil
}
