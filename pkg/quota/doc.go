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

// Package quota enforces per-period generation limits for users and devices.
//
// Each subject owns one counter row that is reused across periods: a counter
// whose stored period differs from the requested one is reset to zero before
// it is incremented. A nil limit means the plan is unmetered and the counter
// only accumulates for reporting.
//
// Stores that can check and increment in one transaction advertise it through
// AtomicIncrementer. Otherwise the Enforcer falls back to separate calls
// (ensure, reset-if-stale, check, relative increment). Two concurrent fallback
// calls for the same subject can both pass the check and over-admit, but the
// increment itself is relative, so every admitted charge is stored.
package quota
