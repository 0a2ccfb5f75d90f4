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

// Package lexer locates import and export specifiers, and calls on a
// module's hot handle, in JavaScript and TypeScript source, with the byte
// offsets needed to rewrite them in place.
package lexer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	ts "github.com/tree-sitter/go-tree-sitter"
)

// ErrSyntax is returned when the source does not parse.
var ErrSyntax = errors.New("syntax error")

// Kind classifies an occurrence.
type Kind int

const (
	// Import is a static import declaration.
	Import Kind = iota
	// ReExport is an export declaration with a source module.
	ReExport
	// DynamicImport is an import() call with a string literal argument.
	DynamicImport
	// HotAccept is a call to import.meta.hot.accept.
	HotAccept
	// HotPrune is a call to import.meta.hot.prune.
	HotPrune
	// HotInvalidate is a call to import.meta.hot.invalidate.
	HotInvalidate
	// HotOther is any other method called on import.meta.hot.
	HotOther
)

func (k Kind) String() string {
	switch k {
	case Import:
		return "import"
	case ReExport:
		return "re-export"
	case DynamicImport:
		return "dynamic import"
	case HotAccept:
		return "hot.accept"
	case HotPrune:
		return "hot.prune"
	case HotInvalidate:
		return "hot.invalidate"
	default:
		return "hot"
	}
}

// IsImport reports whether k carries a module specifier.
func (k Kind) IsImport() bool {
	return k == Import || k == ReExport || k == DynamicImport
}

// Literal is a string literal with the byte range of its contents, quotes
// excluded.
type Literal struct {
	Value      string
	Start, End int
}

// Occurrence is one import/export specifier or hot API call.
type Occurrence struct {
	Kind Kind
	Line int // 1-indexed

	// Specifier and Start/End locate the specifier text of imports and
	// re-exports, quotes excluded. For hot calls Start/End span the call's
	// argument list, parentheses included.
	Specifier  string
	Start, End int

	// Deps are the string literal dependencies of a hot.accept call.
	Deps []Literal
	// SelfAccept is true for hot.accept() with no dependency list.
	SelfAccept bool
	// Err records a hot.accept call whose dependency list is not made of
	// string literals.
	Err error
}

// Lexer scans sources, caching results by content hash so a module whose
// text did not change is not parsed again.
type Lexer struct {
	cache *lru.Cache[[sha256.Size]byte, []Occurrence]
}

// New creates a Lexer caching results for up to size distinct sources.
func New(size int) (*Lexer, error) {
	cache, err := lru.New[[sha256.Size]byte, []Occurrence](size)
	if err != nil {
		return nil, fmt.Errorf("creating lexer cache: %w", err)
	}
	return &Lexer{cache: cache}, nil
}

// Lex returns the occurrences in content in source order. The returned
// slice is shared with the cache and must not be modified.
func (l *Lexer) Lex(content []byte) ([]Occurrence, error) {
	key := sha256.Sum256(content)
	if occs, ok := l.cache.Get(key); ok {
		return occs, nil
	}
	occs, err := Lex(content)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, occs)
	return occs, nil
}

// Lex parses content and returns its occurrences in source order.
func Lex(content []byte) ([]Occurrence, error) {
	q, err := query("imports")
	if err != nil {
		return nil, err
	}

	parser := getParser()
	defer putParser(parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("%w: parser returned no tree", ErrSyntax)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%w at line %d", ErrSyntax, firstErrorLine(root))
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var occs []Occurrence
	matches := cursor.Matches(q, root, content)
	captureNames := q.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		var hot struct {
			handle, method string
			args           *ts.Node
		}

		for _, capture := range match.Captures {
			name := captureNames[capture.Index]
			node := capture.Node
			line := int(node.StartPosition().Row) + 1

			switch name {
			case "import.spec", "reexport.spec", "dynamicImport.spec":
				kind := Import
				if name == "reexport.spec" {
					kind = ReExport
				} else if name == "dynamicImport.spec" {
					kind = DynamicImport
				}
				occs = append(occs, Occurrence{
					Kind:      kind,
					Line:      line,
					Specifier: node.Utf8Text(content),
					Start:     int(node.StartByte()),
					End:       int(node.EndByte()),
				})
			case "hot.handle":
				hot.handle = node.Utf8Text(content)
			case "hot.method":
				hot.method = node.Utf8Text(content)
			case "hot.args":
				hot.args = &node
			}
		}

		if hot.args != nil && hot.handle == "hot" {
			occs = append(occs, hotOccurrence(hot.method, hot.args, content))
		}
	}

	slices.SortStableFunc(occs, func(a, b Occurrence) int {
		return a.Start - b.Start
	})
	return occs, nil
}

// hotOccurrence builds the occurrence for a call on the hot handle.
func hotOccurrence(method string, args *ts.Node, content []byte) Occurrence {
	occ := Occurrence{
		Line:  int(args.StartPosition().Row) + 1,
		Start: int(args.StartByte()),
		End:   int(args.EndByte()),
	}
	switch method {
	case "accept":
		occ.Kind = HotAccept
	case "prune":
		occ.Kind = HotPrune
		return occ
	case "invalidate":
		occ.Kind = HotInvalidate
		return occ
	default:
		occ.Kind = HotOther
		return occ
	}

	first := firstArgument(args)
	if first == nil {
		occ.SelfAccept = true
		return occ
	}

	switch first.Kind() {
	case "array":
		for i := uint(0); i < first.NamedChildCount(); i++ {
			el := first.NamedChild(i)
			if el.Kind() == "comment" {
				continue
			}
			lit, ok := stringLiteral(el, content)
			if !ok {
				occ.Err = fmt.Errorf("hot.accept dependency %q on line %d is not a string literal",
					el.Utf8Text(content), int(el.StartPosition().Row)+1)
				return occ
			}
			occ.Deps = append(occ.Deps, lit)
		}
		occ.SelfAccept = len(occ.Deps) == 0
	case "string":
		lit, ok := stringLiteral(first, content)
		if !ok {
			occ.Err = fmt.Errorf("hot.accept dependency on line %d is empty", occ.Line)
			return occ
		}
		occ.Deps = []Literal{lit}
	default:
		// accept(callback)
		occ.SelfAccept = true
	}
	return occ
}

func firstArgument(args *ts.Node) *ts.Node {
	for i := uint(0); i < args.NamedChildCount(); i++ {
		child := args.NamedChild(i)
		if child.Kind() != "comment" {
			return child
		}
	}
	return nil
}

// stringLiteral returns the contents of a non-empty string node.
func stringLiteral(node *ts.Node, content []byte) (Literal, bool) {
	if node.Kind() != "string" {
		return Literal{}, false
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		frag := node.NamedChild(i)
		if frag.Kind() == "string_fragment" && node.NamedChildCount() == 1 {
			return Literal{
				Value: frag.Utf8Text(content),
				Start: int(frag.StartByte()),
				End:   int(frag.EndByte()),
			}, true
		}
	}
	return Literal{}, false
}

// firstErrorLine finds the first ERROR or MISSING node for diagnostics.
func firstErrorLine(root *ts.Node) int {
	cursor := root.Walk()
	defer cursor.Close()

	var visit func() int
	visit = func() int {
		node := cursor.Node()
		if node.IsError() || node.IsMissing() {
			return int(node.StartPosition().Row) + 1
		}
		if !node.HasError() {
			return 0
		}
		if cursor.GotoFirstChild() {
			for {
				if line := visit(); line > 0 {
					return line
				}
				if !cursor.GotoNextSibling() {
					break
				}
			}
			cursor.GotoParent()
		}
		return 0
	}
	if line := visit(); line > 0 {
		return line
	}
	return 1
}
