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
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Driver names accepted under databases.<name>.driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// sqliteMemory is the in-process SQLite database. Each connection to it is
// a separate database, so the pool keeps exactly one.
const sqliteMemory = ":memory:"

// DatabaseConfig is one named SQL database shared by the rate limit, quota,
// job and offer stores.
type DatabaseConfig struct {
	Driver string `yaml:"driver" jsonschema:"title=Driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3"`

	// Host and Port are ignored for sqlite.
	Host string `yaml:"host,omitempty" jsonschema:"title=Host"`
	Port int    `yaml:"port,omitempty" jsonschema:"title=Port,description=Defaults to 5432 for postgres and 3306 for mysql"`

	// Database is the database name, or the file path for sqlite.
	Database string `yaml:"database" jsonschema:"title=Database"`

	Username string `yaml:"username,omitempty" jsonschema:"title=Username"`
	Password string `yaml:"password,omitempty" jsonschema:"title=Password"`

	// SSLMode is passed to postgres. Default: disable
	SSLMode string `yaml:"ssl_mode,omitempty" jsonschema:"title=SSL Mode,enum=disable,enum=require,enum=verify-ca,enum=verify-full"`

	// MaxConns bounds open connections. Every admitted offer request holds
	// one for its quota transaction. Default: 25
	MaxConns int `yaml:"max_conns,omitempty" jsonschema:"title=Max Connections,minimum=1,default=25"`

	// ConnMaxLifetime recycles connections. Default: 1h
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" jsonschema:"title=Connection Max Lifetime,default=1h"`

	// BusyTimeout is how long a sqlite writer waits for the file lock before
	// failing with SQLITE_BUSY. Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" jsonschema:"title=SQLite Busy Timeout,default=5s"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	switch c.Dialect() {
	case DriverPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	case DriverSQLite:
		if c.BusyTimeout == 0 {
			c.BusyTimeout = 5 * time.Second
		}
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Dialect() {
	case DriverPostgres, DriverMySQL:
		if c.Host == "" {
			return fmt.Errorf("host is required for %s", c.Driver)
		}
	case DriverSQLite:
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}

	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must be non-negative")
	}
	if c.ConnMaxLifetime < 0 || c.BusyTimeout < 0 {
		return fmt.Errorf("conn_max_lifetime and busy_timeout must be non-negative")
	}
	return nil
}

// DSN builds the connection string for DriverName. Credentials are escaped
// by the driver's own formatter, so passwords may contain any character.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
		}
		return u.String()

	case DriverMySQL:
		// Job and quota timestamps are scanned into time.Time.
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN()

	case DriverSQLite:
		if c.Database == sqliteMemory {
			return sqliteMemory
		}
		busy := c.BusyTimeout
		if busy == 0 {
			busy = 5 * time.Second
		}
		// Immediate transactions take the write lock up front, so two
		// connections charging the same counter queue on busy_timeout
		// instead of failing the upgrade from a read lock.
		q := url.Values{
			"_busy_timeout": {strconv.FormatInt(busy.Milliseconds(), 10)},
			"_journal_mode": {"WAL"},
			"_txlock":       {"immediate"},
		}
		return "file:" + c.Database + "?" + q.Encode()

	default:
		return ""
	}
}

// DriverName is the database/sql driver registered for Driver.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == DriverSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect is the query dialect the SQL stores render for.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return DriverSQLite
	}
	return c.Driver
}

// SingleConn reports whether the pool must hold one connection.
func (c *DatabaseConfig) SingleConn() bool {
	return c.Dialect() == DriverSQLite && c.Database == sqliteMemory
}
