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

// Package patch applies byte-range replacements to source text.
//
// Replacements are keyed by offsets into the original text, so they may be
// registered in any order and never depend on each other's output length.
package patch

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrOutOfRange is returned when a replacement falls outside the source.
	ErrOutOfRange = errors.New("replacement out of range")
	// ErrOverlap is returned when two replacements cover the same bytes.
	ErrOverlap = errors.New("overlapping replacements")
)

type edit struct {
	start, end int
	text       string
}

// Patcher collects replacements against an original source.
type Patcher struct {
	src    []byte
	edits  []edit
	prefix strings.Builder
}

// New creates a Patcher over src. src is not modified.
func New(src []byte) *Patcher {
	return &Patcher{src: src}
}

// Overwrite replaces src[start:end] with text. An empty range inserts text
// at start.
func (p *Patcher) Overwrite(start, end int, text string) error {
	if start < 0 || end > len(p.src) || start > end {
		return fmt.Errorf("%w: [%d,%d) of %d bytes", ErrOutOfRange, start, end, len(p.src))
	}
	for _, e := range p.edits {
		if start < e.end && e.start < end {
			return fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlap, start, end, e.start, e.end)
		}
		// Two insertions at the same offset would be ambiguous.
		if start == end && e.start == e.end && start == e.start {
			return fmt.Errorf("%w: two insertions at %d", ErrOverlap, start)
		}
	}
	p.edits = append(p.edits, edit{start: start, end: end, text: text})
	return nil
}

// Prepend adds text before the original source. Successive calls append to
// the prologue in call order.
func (p *Patcher) Prepend(text string) {
	p.prefix.WriteString(text)
}

// String returns the patched text.
func (p *Patcher) String() string {
	edits := slices.Clone(p.edits)
	slices.SortFunc(edits, func(a, b edit) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return a.end - b.end
	})

	var out strings.Builder
	out.Grow(p.prefix.Len() + len(p.src))
	out.WriteString(p.prefix.String())

	last := 0
	for _, e := range edits {
		out.Write(p.src[last:e.start])
		out.WriteString(e.text)
		last = e.end
	}
	out.Write(p.src[last:])
	return out.String()
}
