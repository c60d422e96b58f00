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

// Package auth signs and validates the short-lived HS256 tokens that
// authenticate service-to-service calls: the API dispatching a job to a
// worker, and webhook deliveries to callback receivers.
//
// Both sides share one secret:
//
//	pipeline:
//	  worker_secret: ${QUILL_WORKER_SECRET}
//
// Tokens are scoped by audience so a webhook signature cannot be replayed
// against the worker endpoint.
package auth

import (
	"context"
	"time"
)

type contextKey string

const claimsContextKey contextKey = "quill_auth_claims"

// Audiences.
const (
	AudienceWorker  = "quill-worker"
	AudienceWebhook = "quill-webhook"
)

// Claims are the validated contents of a token.
type Claims struct {
	// Subject is the job id the token is bound to.
	Subject  string
	Audience string

	// BodyDigest is the hex SHA-256 of the request body, when bound to one.
	BodyDigest string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ClaimsFromContext returns claims stored by HTTPMiddleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims stores claims in ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
