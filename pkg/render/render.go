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

// Package render turns proposal HTML into PDF bytes through a headless
// browser service.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledongthuc/pdf"
)

// DefaultTimeout covers navigation and rendering together.
const DefaultTimeout = 60 * time.Second

// ErrInvalidPDF is returned when the renderer output does not parse as a PDF.
var ErrInvalidPDF = errors.New("renderer returned an invalid PDF")

// Renderer renders an HTML document to PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, html string) ([]byte, error)

func (f RendererFunc) Render(ctx context.Context, html string) ([]byte, error) {
	return f(ctx, html)
}

// Validate checks that b parses as a PDF with at least one page.
func Validate(b []byte) (pages int, err error) {
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		return 0, fmt.Errorf("%w: missing %%PDF header", ErrInvalidPDF)
	}

	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: %v", ErrInvalidPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if n := reader.NumPage(); n > 0 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
}
