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

package importmap

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/packagejson"
)

// NodeModulesURL is the web path under which installed packages are served.
const NodeModulesURL = "/node_modules"

// Generator maps the root package's dependencies, their dependencies, and
// any extra bare specifiers onto files under the root's node_modules. The
// root package's own exports map onto the root itself.
type Generator struct {
	root       string
	packages   *packagejson.Cache
	conditions []string
	logger     *log.Logger
}

// NewGenerator returns a Generator for the project at root, reading
// package.json files through packages.
func NewGenerator(root string, packages *packagejson.Cache, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		root:     root,
		packages: packages,
		logger:   logger.WithPrefix("importmap"),
	}
}

// WithConditions returns a copy of g resolving exports with conditions
// instead of packagejson.DefaultConditions.
func (g *Generator) WithConditions(conditions []string) *Generator {
	clone := *g
	clone.conditions = conditions
	return &clone
}

// Generate builds the import map. A missing root package.json is not an
// error; extra specifiers alone then decide which packages are mapped.
// Packages missing from node_modules are logged and skipped.
func (g *Generator) Generate(extra []string) (*ImportMap, error) {
	im := &ImportMap{Imports: make(map[string]string)}

	var queue []string
	rootPkg, err := g.packages.Load(filepath.Join(g.root, "package.json"))
	switch {
	case errors.Is(err, iofs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("root package.json: %w", err)
	default:
		if rootPkg.Name != "" {
			g.add(im, rootPkg.Name, "", rootPkg)
		}
		queue = slices.Sorted(maps.Keys(rootPkg.Dependencies))
	}
	for _, spec := range extra {
		if name := PackageName(spec); name != "" {
			queue = append(queue, name)
		}
	}

	seen := make(map[string]struct{})
	if rootPkg != nil && rootPkg.Name != "" {
		seen[rootPkg.Name] = struct{}{}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		dir := filepath.Join(g.root, "node_modules", filepath.FromSlash(name))
		pkg, err := g.packages.Load(filepath.Join(dir, "package.json"))
		if err != nil {
			g.logger.Warn("package not installed", "package", name, "err", err)
			continue
		}
		g.add(im, name, NodeModulesURL+"/"+name, pkg)
		queue = append(queue, slices.Sorted(maps.Keys(pkg.Dependencies))...)
	}

	if len(im.Imports) == 0 {
		im.Imports = nil
	}
	g.logger.Debug("generated", "entries", len(im.Imports))
	return im, nil
}

// add maps the exports of the package called name, served at base.
func (g *Generator) add(im *ImportMap, name, base string, pkg *packagejson.PackageJSON) {
	for _, export := range pkg.ExportEntries(g.conditions) {
		im.Imports[name+strings.TrimPrefix(export.Subpath, ".")] = base + "/" + export.Target
	}
	for _, wildcard := range pkg.Wildcards(g.conditions) {
		im.Imports[name+"/"+wildcard.Prefix] = base + "/" + wildcard.Target
	}
	if pkg.OpenDirectory() {
		im.Imports[name+"/"] = base + "/"
	}
}

// PackageName returns the package a bare specifier names ("lit" for
// "lit/decorators.js", "@scope/pkg" for "@scope/pkg/x.js"), or "" for
// relative paths, absolute paths and URLs.
func PackageName(spec string) string {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") ||
		strings.Contains(spec, ":") {
		return ""
	}
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
