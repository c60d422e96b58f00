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

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	bodyDigestClaim = "body_sha256"

	// DefaultIssuer is the iss claim of every token.
	DefaultIssuer = "quill"

	// DefaultTTL bounds how long a token stays valid.
	DefaultTTL = 5 * time.Minute
)

// Signer issues and validates HS256 tokens with a shared secret.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the time source used for iat, exp and validation.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner creates a signer for secret.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &Signer{
		key:    []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BodyDigest is the value bound into the body_sha256 claim.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign issues a token for subject and audience. A non-nil body is bound
// into the token by digest.
func (s *Signer) Sign(subject, audience string, body []byte) (string, error) {
	now := s.now()

	token := jwt.New()
	if err := token.Set(jwt.IssuerKey, s.issuer); err != nil {
		return "", err
	}
	if err := token.Set(jwt.SubjectKey, subject); err != nil {
		return "", err
	}
	if err := token.Set(jwt.AudienceKey, audience); err != nil {
		return "", err
	}
	if err := token.Set(jwt.IssuedAtKey, now); err != nil {
		return "", err
	}
	if err := token.Set(jwt.ExpirationKey, now.Add(s.ttl)); err != nil {
		return "", err
	}
	if body != nil {
		if err := token.Set(bodyDigestClaim, BodyDigest(body)); err != nil {
			return "", err
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Validate verifies signature, issuer, audience and expiry.
func (s *Signer) Validate(tokenString, audience string) (*Claims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject:   token.Subject(),
		Audience:  audience,
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}
	if v, ok := token.Get(bodyDigestClaim); ok {
		if digest, ok := v.(string); ok {
			claims.BodyDigest = digest
		}
	}
	return claims, nil
}

// VerifyBody validates the token and checks it was issued for body.
func (s *Signer) VerifyBody(tokenString, audience string, body []byte) (*Claims, error) {
	claims, err := s.Validate(tokenString, audience)
	if err != nil {
		return nil, err
	}
	if claims.BodyDigest != BodyDigest(body) {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrInvalidToken)
	}
	return claims, nil
}
