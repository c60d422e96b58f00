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

package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"unicode"
)

const (
	linesPerPage = 54
	charsPerLine = 90
)

// TextRenderer writes the visible text of the HTML into a plain Helvetica
// PDF. It needs no browser and is meant for local development.
type TextRenderer struct{}

// NewTextRenderer creates a TextRenderer.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

func (*TextRenderer) Render(ctx context.Context, doc string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BuildTextPDF(wrap(visibleText(doc), charsPerLine)), nil
}

var _ Renderer = (*TextRenderer)(nil)

// visibleText drops tags, script and style bodies and decodes entities.
func visibleText(doc string) string {
	var (
		b     strings.Builder
		inTag bool
		skip  string
		tag   strings.Builder
	)
	for _, r := range doc {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			var name string
			if f := strings.Fields(tag.String()); len(f) > 0 {
				name = strings.ToLower(f[0])
			}
			switch {
			case skip != "" && name == "/"+skip:
				skip = ""
			case name == "script" || name == "style":
				skip = name
			case name == "br" || name == "br/" || name == "/p" || name == "/div" || name == "/li" ||
				strings.HasPrefix(name, "/h"):
				b.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		case skip == "":
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}

func wrap(text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.FieldsFunc(para, unicode.IsSpace)
		if len(words) == 0 {
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if len(line)+1+len(w) > width {
				lines = append(lines, line)
				line = w
				continue
			}
			line += " " + w
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// BuildTextPDF lays lines out on A4 pages and returns the PDF file.
func BuildTextPDF(lines []string) []byte {
	var pages [][]string
	for len(lines) > 0 {
		n := min(linesPerPage, len(lines))
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	if len(pages) == 0 {
		pages = [][]string{{""}}
	}

	// 1 catalog, 2 pages, 3 font, then a page and content object per page.
	objects := make([]string, 3, 3+2*len(pages))
	kids := make([]string, 0, len(pages))
	for i, page := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj))

		var content bytes.Buffer
		content.WriteString("BT\n/F1 11 Tf\n14 TL\n50 800 Td\n")
		for _, line := range page {
			fmt.Fprintf(&content, "(%s) Tj T*\n", escapePDFString(line))
		}
		content.WriteString("ET")

		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>", contentObj),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}
	objects[0] = "<< /Type /Catalog /Pages 2 0 R >>"
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objects[2] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return out.Bytes()
}

func escapePDFString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
