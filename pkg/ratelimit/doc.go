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

// Package ratelimit implements a fixed-window request limiter over a durable
// key/count/expiry store.
//
// Features:
//   - Fixed windows keyed by arbitrary strings
//   - Exactly MaxRequests successes per window; the counter is never clamped
//   - Transparent migration of counters stored under legacy key formats
//   - Memory, SQL (postgres, mysql, sqlite) and Redis stores
//   - HTTP middleware emitting Retry-After and X-RateLimit-* headers
//
// # Basic Usage
//
//	store := ratelimit.NewMemoryStore()
//	limiter := ratelimit.NewLimiter(store)
//
//	rule := ratelimit.Rule{MaxRequests: 5, Window: time.Minute}
//	res, err := limiter.Consume(ctx, "ip:203.0.113.7", rule, time.Now())
//	if err != nil {
//	    return err // store failures are never turned into allow or deny
//	}
//	if !res.Allowed {
//	    // reject, retry in res.RetryAfter
//	}
//
// # Legacy Keys
//
// When the way a key is derived changes, ConsumeWithMigration carries the
// in-flight counter over to the new key exactly once:
//
//	scheme := ratelimit.EmailKeyScheme("login")
//	primary, legacy := scheme.Keys("Alice@Example.com ")
//	res, err := limiter.ConsumeWithMigration(ctx, primary, legacy, rule, time.Now())
//
// # Configuration
//
//	rate_limiting:
//	  enabled: true
//	  backend: sql        # memory, sql or redis
//	  sql_database: default
//	  rules:
//	    offer_pdf:
//	      max_requests: 10
//	      window: 1m
package ratelimit
