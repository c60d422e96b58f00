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

// Package server exposes the PDF pipeline over HTTP.
//
// Routes:
//   - GET  /healthz                        liveness
//   - POST /v1/offers/{offerID}/pdf        request a PDF, rate limited
//   - GET  /v1/jobs/{jobID}                job status
//   - GET  /v1/jobs/{jobID}/pdf            download a finished PDF
//   - GET  /v1/usage                       quota usage for the caller
//   - POST /internal/jobs/{jobID}/process  worker trigger, JWT protected
//
// Callers are identified by the X-User-ID header set by the gateway in
// front of the service.
package server
