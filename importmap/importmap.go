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

// Package importmap builds the ES module import map the dev server injects
// into entry HTML so bare specifiers left in served modules resolve to files
// under node_modules.
// See https://developer.mozilla.org/en-US/docs/Web/HTML/Element/script/type/importmap
package importmap

import (
	"encoding/json"
	"maps"
)

// ImportMap is an ES module import map.
type ImportMap struct {
	// Imports maps specifiers, or prefixes ending in "/", to URLs.
	Imports map[string]string `json:"imports,omitempty"`

	// Scopes maps URL prefixes to imports applying to referrers under them.
	Scopes map[string]map[string]string `json:"scopes,omitempty"`

	// Integrity maps module URLs to subresource integrity values.
	Integrity map[string]string `json:"integrity,omitempty"`
}

// Parse decodes an import map, such as the body of an existing
// <script type="importmap">.
func Parse(data []byte) (*ImportMap, error) {
	var im ImportMap
	if err := json.Unmarshal(data, &im); err != nil {
		return nil, err
	}
	return &im, nil
}

// Empty reports whether the map has no entries.
func (im *ImportMap) Empty() bool {
	return im == nil || (len(im.Imports) == 0 && len(im.Scopes) == 0 && len(im.Integrity) == 0)
}

// Merge returns a new map holding im's entries overlaid with other's.
// Neither input is modified.
func (im *ImportMap) Merge(other *ImportMap) *ImportMap {
	result := im.Clone()
	if result == nil {
		result = &ImportMap{}
	}
	if other == nil {
		return result
	}
	result.Imports = overlay(result.Imports, other.Imports)
	result.Integrity = overlay(result.Integrity, other.Integrity)
	for scope, imports := range other.Scopes {
		if result.Scopes == nil {
			result.Scopes = make(map[string]map[string]string)
		}
		result.Scopes[scope] = overlay(result.Scopes[scope], imports)
	}
	return result
}

// Clone returns a deep copy of im.
func (im *ImportMap) Clone() *ImportMap {
	if im == nil {
		return nil
	}
	result := &ImportMap{
		Imports:   maps.Clone(im.Imports),
		Integrity: maps.Clone(im.Integrity),
	}
	if im.Scopes != nil {
		result.Scopes = make(map[string]map[string]string, len(im.Scopes))
		for scope, imports := range im.Scopes {
			result.Scopes[scope] = maps.Clone(imports)
		}
	}
	return result
}

// ToJSON renders the map as indented JSON, or "" when it is empty.
func (im *ImportMap) ToJSON() string {
	if im.Empty() {
		return ""
	}
	data, err := json.MarshalIndent(im, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func overlay(base, top map[string]string) map[string]string {
	if len(top) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(top))
	}
	maps.Copy(base, top)
	return base
}
