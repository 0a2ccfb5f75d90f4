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

// Package packagejson reads the parts of package.json that decide which file a
// bare import specifier loads in the browser.
package packagejson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bennypowers.dev/hotserve/fs"
)

// ErrNotExported is returned when a subpath is not exported by the package.
var ErrNotExported = errors.New("not exported by package.json")

// DefaultConditions is the export condition priority for browser modules.
var DefaultConditions = []string{"browser", "import", "module", "default"}

// PackageJSON is the subset of package.json used to map bare specifiers.
type PackageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Main            string            `json:"main,omitempty"`
	Module          string            `json:"module,omitempty"`
	Exports         any               `json:"exports,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
}

// Export is a resolved, non-wildcard export: Subpath "." or "./x" maps to
// Target, relative to the package directory without a leading "./".
type Export struct {
	Subpath string
	Target  string
}

// Wildcard is a "./x/*" export. Prefix is the subpath before the star
// ("x/") and Target the target path before the star.
type Wildcard struct {
	Prefix string
	Target string
}

// Parse decodes package.json data.
func Parse(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	return &pkg, nil
}

// ParseFile reads and decodes the package.json at path.
func ParseFile(fsys fs.FileSystem, path string) (*PackageJSON, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// entry returns the main entry when there is no exports field, preferring
// the module field over main.
func (pkg *PackageJSON) entry() string {
	if pkg.Module != "" {
		return trimDotSlash(pkg.Module)
	}
	return trimDotSlash(pkg.Main)
}

// subpathMap returns the exports field as a subpath map, treating a string
// or a conditions-only object as the "." export.
func (pkg *PackageJSON) subpathMap() map[string]any {
	switch exports := pkg.Exports.(type) {
	case string:
		return map[string]any{".": exports}
	case map[string]any:
		for key := range exports {
			if strings.HasPrefix(key, ".") {
				return exports
			}
		}
		return map[string]any{".": exports}
	}
	return nil
}

// ResolveExport resolves subpath ("." or "./x") to a file relative to the
// package directory. Without an exports field only "." resolves, to the
// module or main entry.
func (pkg *PackageJSON) ResolveExport(subpath string, conditions []string) (string, error) {
	if pkg.Exports == nil {
		if subpath == "." && pkg.entry() != "" {
			return pkg.entry(), nil
		}
		return "", fmt.Errorf("%s %q: %w", pkg.Name, subpath, ErrNotExported)
	}
	value, ok := pkg.subpathMap()[subpath]
	if !ok {
		return "", fmt.Errorf("%s %q: %w", pkg.Name, subpath, ErrNotExported)
	}
	target := resolveValue(value, conditions)
	if target == "" {
		return "", fmt.Errorf("%s %q: no matching condition: %w", pkg.Name, subpath, ErrNotExported)
	}
	return target, nil
}

// ExportEntries lists every non-wildcard export that resolves under
// conditions.
func (pkg *PackageJSON) ExportEntries(conditions []string) []Export {
	if pkg.Exports == nil {
		if pkg.entry() == "" {
			return nil
		}
		return []Export{{Subpath: ".", Target: pkg.entry()}}
	}
	var entries []Export
	for subpath, value := range pkg.subpathMap() {
		if strings.Contains(subpath, "*") {
			continue
		}
		if target := resolveValue(value, conditions); target != "" {
			entries = append(entries, Export{Subpath: subpath, Target: target})
		}
	}
	return entries
}

// Wildcards lists the "./x/*" exports whose targets end in a star, which
// import maps can express as trailing-slash prefixes.
func (pkg *PackageJSON) Wildcards(conditions []string) []Wildcard {
	var wildcards []Wildcard
	for pattern, value := range pkg.subpathMap() {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok || strings.Contains(prefix, "*") {
			continue
		}
		target, ok := strings.CutSuffix(resolveValue(value, conditions), "*")
		if !ok || strings.Contains(target, "*") {
			continue
		}
		wildcards = append(wildcards, Wildcard{
			Prefix: trimDotSlash(prefix),
			Target: target,
		})
	}
	return wildcards
}

// OpenDirectory reports whether every file in the package may be imported,
// which is the case when it has no exports field.
func (pkg *PackageJSON) OpenDirectory() bool {
	return pkg.Exports == nil
}

// resolveValue resolves an export value: a path string, a conditions
// object (recursively) or a fallback array. It returns "" when nothing
// matches.
func resolveValue(value any, conditions []string) string {
	if len(conditions) == 0 {
		conditions = DefaultConditions
	}
	switch v := value.(type) {
	case string:
		return trimDotSlash(v)
	case map[string]any:
		for _, cond := range conditions {
			if nested, ok := v[cond]; ok {
				if target := resolveValue(nested, conditions); target != "" {
					return target
				}
			}
		}
	case []any:
		for _, item := range v {
			if target := resolveValue(item, conditions); target != "" {
				return target
			}
		}
	}
	return ""
}

func trimDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}
