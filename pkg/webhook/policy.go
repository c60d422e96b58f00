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

// Package webhook delivers job completion callbacks to caller-supplied URLs.
//
// Callback URLs come from API callers, so every URL is checked against a
// Policy before any request is made, and the resolved address of every
// connection is checked again at dial time.
package webhook

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrDisallowedURL is returned when a callback URL fails the policy.
var ErrDisallowedURL = errors.New("callback URL not allowed")

// Policy is the callback allow-list. A zero Policy allows nothing.
type Policy struct {
	// Schemes allowed. Defaults to https when empty.
	Schemes []string

	// Hosts allowed, exact or "*.example.com" for any subdomain.
	Hosts []string

	// AllowPrivateNetworks permits loopback, private and link-local targets.
	AllowPrivateNetworks bool
}

func (p Policy) schemes() []string {
	if len(p.Schemes) == 0 {
		return []string{"https"}
	}
	return p.Schemes
}

// Check parses raw and applies the policy.
func (p Policy) Check(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL", ErrDisallowedURL, raw)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in URL", ErrDisallowedURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if !contains(p.schemes(), scheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrDisallowedURL, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if !p.hostAllowed(host) {
		return nil, fmt.Errorf("%w: host %q", ErrDisallowedURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && !p.AllowPrivateNetworks && !isPublic(addr) {
		return nil, fmt.Errorf("%w: address %s is not public", ErrDisallowedURL, addr)
	}
	return u, nil
}

func (p Policy) hostAllowed(host string) bool {
	for _, allowed := range p.Hosts {
		allowed = strings.ToLower(allowed)
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// dialControl rejects connections to non-public addresses after DNS
// resolution, so a public hostname cannot point at internal services.
func (p Policy) dialControl(_, address string, _ syscall.RawConn) error {
	if p.AllowPrivateNetworks {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}
	if !isPublic(addr) {
		return fmt.Errorf("%w: resolved address %s is not public", ErrDisallowedURL, addr)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
