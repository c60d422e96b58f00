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

package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyFunc derives the stored key suffix for an identifier.
type KeyFunc func(identifier string) string

// KeyScheme derives the current key for an identifier together with the keys
// older releases stored the same identifier under.
type KeyScheme struct {
	Prefix  string
	Current KeyFunc
	Legacy  []KeyFunc
}

// Keys returns the primary key and the ordered, de-duplicated legacy keys.
func (s KeyScheme) Keys(identifier string) (string, []string) {
	primary := s.key(s.Current, identifier)

	seen := map[string]bool{primary: true}
	legacy := make([]string, 0, len(s.Legacy))
	for _, fn := range s.Legacy {
		k := s.key(fn, identifier)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		legacy = append(legacy, k)
	}
	return primary, legacy
}

func (s KeyScheme) key(fn KeyFunc, identifier string) string {
	if fn == nil {
		fn = Identity
	}
	suffix := fn(identifier)
	if suffix == "" {
		return ""
	}
	if s.Prefix == "" {
		return suffix
	}
	return s.Prefix + ":" + suffix
}

// Identity uses the identifier unchanged.
func Identity(identifier string) string { return identifier }

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SHA256Hex hashes the identifier as given.
func SHA256Hex(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// NormalizedEmailSHA256 hashes the normalized address.
func NormalizedEmailSHA256(email string) string {
	return SHA256Hex(NormalizeEmail(email))
}

// EmailKeyScheme keys addresses by the SHA-256 of the normalized address.
// Earlier formats were the raw lowercased address and the SHA-256 of the
// address as typed.
func EmailKeyScheme(prefix string) KeyScheme {
	return KeyScheme{
		Prefix:  prefix,
		Current: NormalizedEmailSHA256,
		Legacy:  []KeyFunc{NormalizeEmail, SHA256Hex},
	}
}

// IdentityKeyScheme keys identifiers verbatim with no legacy formats.
func IdentityKeyScheme(prefix string) KeyScheme {
	return KeyScheme{Prefix: prefix, Current: Identity}
}

// KeySchemeByName resolves a configured scheme name.
func KeySchemeByName(name, prefix string) (KeyScheme, error) {
	switch name {
	case "", "identity":
		return IdentityKeyScheme(prefix), nil
	case "email":
		return EmailKeyScheme(prefix), nil
	default:
		return KeyScheme{}, fmt.Errorf("unknown key scheme %q (valid: identity, email)", name)
	}
}
