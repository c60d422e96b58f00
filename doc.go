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

// Package quill generates offer PDFs behind a per-user rate limit and
// monthly usage quotas.
//
// A request passes the fixed-window rate limiter, is recorded as a queued
// job and is dispatched to a worker. The worker renders the HTML, uploads
// the PDF, charges the user and device quotas, and records the public URL
// on the offer. When any step fails, the effects of the earlier steps are
// compensated and the job is marked failed.
//
// # Quick Start
//
//	go install github.com/kadirpekel/quill/cmd/quill@latest
//	quill serve
//
// With no config file every store is in memory and PDFs are written under
// ./data/objects. A production config selects SQL or Redis backends:
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: localhost
//	    database: quill
//	    username: quill
//	    password: ${DB_PASSWORD}
//
//	rate_limiting:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	  rules:
//	    offer_pdf:
//	      max_requests: 5
//	      window: 1m
//	      key_scheme: email
//
//	quota:
//	  backend: sql
//	  database: main
//	  user_limit: 100
//	  device_limit: 20
//
//	jobs:
//	  backend: sql
//	  database: main
//
// Packages:
//
//   - pkg/ratelimit: fixed-window limiter with legacy key migration
//   - pkg/quota: user and device usage counters
//   - pkg/job: job records and status transitions
//   - pkg/pipeline: processing and compensation
//   - pkg/server: HTTP surface
//   - pkg/runtime: assembly from configuration
package quill
