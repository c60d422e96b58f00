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

// Package offer records the generated PDF on the parent offer.
package offer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no offer has the given id.
var ErrNotFound = errors.New("offer not found")

// Offer is the part of an offer record this service writes.
type Offer struct {
	ID           string
	PDFURL       string
	PDFUpdatedAt time.Time
}

// Updater sets the PDF URL on an offer.
type Updater interface {
	SetPDFURL(ctx context.Context, offerID, pdfURL string, at time.Time) error
}

// Store is an Updater that can also read offers back.
type Store interface {
	Updater
	Get(ctx context.Context, offerID string) (*Offer, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// MemoryStore keeps offers in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	offers map[string]Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]Offer)}
}

func (s *MemoryStore) SetPDFURL(_ context.Context, offerID, pdfURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offerID] = Offer{ID: offerID, PDFURL: pdfURL, PDFUpdatedAt: at.UTC()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, offerID string) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[offerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
