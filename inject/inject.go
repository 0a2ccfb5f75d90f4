/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package inject prepares entry HTML for the dev server: it finds the module
// scripts a page loads, and inserts the hot-update client together with an
// import map, merging with any import map the page already declares.
package inject

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"bennypowers.dev/hotserve/importmap"
)

// Script is a <script> element found in a document.
type Script struct {
	Type string
	Src  string
	// Line is the 1-based line of the start tag.
	Line int
}

// Module reports whether the script is an external ES module.
func (s Script) Module() bool {
	return s.Type == "module" && s.Src != ""
}

// Document is a tokenized HTML document. Offsets index into the original
// bytes, so injection leaves the rest of the markup untouched.
type Document struct {
	src     []byte
	Scripts []Script

	// insertAt is just past the <head> start tag, else past <html>, else
	// past the doctype, else 0.
	insertAt int
	headSeen bool

	// Inline import map body, when the document has one.
	mapStart, mapEnd int
	hasMap           bool
}

// Parse tokenizes src. Only malformed input the tokenizer rejects is an
// error; HTML without a <head> is accepted.
func Parse(src []byte) (*Document, error) {
	doc := &Document{src: src}
	z := html.NewTokenizer(bytes.NewReader(src))
	offset := 0
	inImportMap := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tokenize html: %w", err)
			}
			break
		}
		raw := z.Raw()
		start, end := offset, offset+len(raw)
		offset = end

		switch tt {
		case html.DoctypeToken:
			if doc.insertAt == 0 {
				doc.insertAt = end
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Html:
				if !doc.headSeen {
					doc.insertAt = end
				}
			case atom.Head:
				if !doc.headSeen {
					doc.insertAt = end
					doc.headSeen = true
				}
			case atom.Script:
				script := Script{
					Type: strings.ToLower(strings.TrimSpace(attr(tok, "type"))),
					Src:  attr(tok, "src"),
					Line: 1 + bytes.Count(src[:start], []byte("\n")),
				}
				doc.Scripts = append(doc.Scripts, script)
				if script.Type == "importmap" && script.Src == "" && !doc.hasMap && tt == html.StartTagToken {
					inImportMap = true
					doc.mapStart, doc.mapEnd = end, end
				}
			}

		case html.TextToken:
			if inImportMap {
				doc.mapEnd = end
			}

		case html.EndTagToken:
			if inImportMap && z.Token().DataAtom == atom.Script {
				inImportMap = false
				doc.hasMap = true
			}
		}
	}
	return doc, nil
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// ModuleScripts returns the src of every external module script, in
// document order.
func (d *Document) ModuleScripts() []string {
	var srcs []string
	for _, s := range d.Scripts {
		if s.Module() {
			srcs = append(srcs, s.Src)
		}
	}
	return srcs
}

// ImportMap returns the document's inline import map, or nil.
func (d *Document) ImportMap() (*importmap.ImportMap, error) {
	if !d.hasMap {
		return nil, nil
	}
	body := bytes.TrimSpace(d.src[d.mapStart:d.mapEnd])
	if len(body) == 0 {
		return nil, nil
	}
	im, err := importmap.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("inline import map: %w", err)
	}
	return im, nil
}

// Inject returns the document with generated merged under its own import
// map, and a module script loading clientPath placed after the map. Entries
// the page declares itself win over generated ones. A nil or empty generated
// map with no inline map adds no import map.
func (d *Document) Inject(clientPath string, generated *importmap.ImportMap) ([]byte, error) {
	existing, err := d.ImportMap()
	if err != nil {
		return nil, err
	}
	merged := generated.Merge(existing)
	client := fmt.Sprintf("<script type=\"module\" src=\"%s\"></script>", html.EscapeString(clientPath))

	var out bytes.Buffer
	out.Grow(len(d.src) + len(client) + 256)
	if d.hasMap {
		// Rewrite the existing map in place and load the client after it.
		closeEnd := d.mapEnd + bytes.Index(d.src[d.mapEnd:], []byte(">")) + 1
		out.Write(d.src[:d.mapStart])
		out.WriteString("\n" + merged.ToJSON() + "\n")
		out.Write(d.src[d.mapEnd:closeEnd])
		out.WriteString("\n" + client)
		out.Write(d.src[closeEnd:])
		return out.Bytes(), nil
	}

	out.Write(d.src[:d.insertAt])
	if !merged.Empty() {
		out.WriteString("\n<script type=\"importmap\">\n" + merged.ToJSON() + "\n</script>")
	}
	out.WriteString("\n" + client)
	out.Write(d.src[d.insertAt:])
	return out.Bytes(), nil
}

// Inject parses src and injects the client and import map. See
// Document.Inject.
func Inject(src []byte, clientPath string, generated *importmap.ImportMap) ([]byte, error) {
	doc, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return doc.Inject(clientPath, generated)
}
