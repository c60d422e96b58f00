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

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// connectTimeout bounds the first ping of a new pool.
const connectTimeout = 10 * time.Second

// DBPool shares one *sql.DB per DSN. Several stores usually point at the
// same named database, and two names may resolve to the same DSN.
type DBPool struct {
	mu     sync.Mutex
	pools  map[string]*sql.DB
	names  map[string][]string
	logger *slog.Logger
}

func NewDBPool() *DBPool {
	return &DBPool{
		pools:  make(map[string]*sql.DB),
		names:  make(map[string][]string),
		logger: slog.Default(),
	}
}

// Named resolves a database declared under databases and returns the shared
// connection together with its config, whose Dialect the SQL stores need.
func (p *DBPool) Named(cfg *Config, name string) (*sql.DB, *DatabaseConfig, error) {
	dbCfg, ok := cfg.GetDatabase(name)
	if !ok {
		return nil, nil, fmt.Errorf("database %q not found (declared: %v)", name, cfg.DatabaseNames())
	}
	db, err := p.get(name, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database %q: %w", name, err)
	}
	return db, dbCfg, nil
}

// Get returns the pool for cfg, opening it on first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	return p.get("", cfg)
}

func (p *DBPool) get(name string, cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	db, ok := p.pools[dsn]
	if !ok {
		var err error
		if db, err = openPool(cfg, dsn); err != nil {
			return nil, err
		}
		p.pools[dsn] = db
		p.logger.Debug("Opened database pool",
			"name", name, "dialect", cfg.Dialect(), "single_conn", cfg.SingleConn())
	}
	if name != "" && !slices.Contains(p.names[dsn], name) {
		p.names[dsn] = append(p.names[dsn], name)
	}
	return db, nil
}

func openPool(cfg *DatabaseConfig, dsn string) (*sql.DB, error) {
	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conns := cfg.MaxConns
	if cfg.SingleConn() {
		conns = 1
	}
	if conns > 0 {
		db.SetMaxOpenConns(conns)
		db.SetMaxIdleConns(conns)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Names lists the database names served so far, sorted.
func (p *DBPool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, names := range p.names {
		out = append(out, names...)
	}
	sort.Strings(out)
	return out
}

// Close closes every pool. The DBPool can be reused afterwards.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", p.names[dsn], err))
		}
	}
	p.pools = make(map[string]*sql.DB)
	p.names = make(map[string][]string)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing database pools: %w", err)
	}
	return nil
}
