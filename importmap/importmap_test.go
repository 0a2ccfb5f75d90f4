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

package importmap_test

import (
	"encoding/json"
	"io"
	"maps"
	"testing"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/importmap"
	"bennypowers.dev/hotserve/internal/mapfs"
	"bennypowers.dev/hotserve/packagejson"
)

func TestParse(t *testing.T) {
	im, err := importmap.Parse([]byte(`{
		"imports": {"lit": "/vendor/lit.js"},
		"scopes": {"/legacy/": {"lit": "/vendor/lit2.js"}},
		"integrity": {"/vendor/lit.js": "sha384-abc"}
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if im.Imports["lit"] != "/vendor/lit.js" {
		t.Errorf("Imports = %v", im.Imports)
	}
	if im.Scopes["/legacy/"]["lit"] != "/vendor/lit2.js" {
		t.Errorf("Scopes = %v", im.Scopes)
	}
	if im.Integrity["/vendor/lit.js"] != "sha384-abc" {
		t.Errorf("Integrity = %v", im.Integrity)
	}

	if _, err := importmap.Parse([]byte(`{"imports": [`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestMerge(t *testing.T) {
	base := &importmap.ImportMap{
		Imports: map[string]string{"lit": "/node_modules/lit/index.js", "a": "/a.js"},
		Scopes:  map[string]map[string]string{"/s/": {"x": "/x1.js", "y": "/y.js"}},
	}
	other := &importmap.ImportMap{
		Imports:   map[string]string{"lit": "https://cdn.example/lit.js"},
		Scopes:    map[string]map[string]string{"/s/": {"x": "/x2.js"}, "/t/": {"z": "/z.js"}},
		Integrity: map[string]string{"https://cdn.example/lit.js": "sha384-xyz"},
	}

	merged := base.Merge(other)

	wantImports := map[string]string{"lit": "https://cdn.example/lit.js", "a": "/a.js"}
	if !maps.Equal(merged.Imports, wantImports) {
		t.Errorf("Imports = %v, want %v", merged.Imports, wantImports)
	}
	if !maps.Equal(merged.Scopes["/s/"], map[string]string{"x": "/x2.js", "y": "/y.js"}) {
		t.Errorf("scope /s/ = %v", merged.Scopes["/s/"])
	}
	if merged.Scopes["/t/"]["z"] != "/z.js" {
		t.Errorf("scope /t/ = %v", merged.Scopes["/t/"])
	}
	if merged.Integrity["https://cdn.example/lit.js"] != "sha384-xyz" {
		t.Errorf("Integrity = %v", merged.Integrity)
	}

	// Inputs are untouched.
	if base.Imports["lit"] != "/node_modules/lit/index.js" || base.Scopes["/s/"]["x"] != "/x1.js" {
		t.Error("Merge modified its receiver")
	}
	if _, ok := base.Scopes["/t/"]; ok {
		t.Error("Merge added a scope to its receiver")
	}
}

func TestMergeNil(t *testing.T) {
	var nilMap *importmap.ImportMap
	if got := nilMap.Merge(nil); !got.Empty() {
		t.Errorf("nil.Merge(nil) = %+v", got)
	}
	other := &importmap.ImportMap{Imports: map[string]string{"a": "/a.js"}}
	got := nilMap.Merge(other)
	if got.Imports["a"] != "/a.js" {
		t.Errorf("nil.Merge(other) = %+v", got)
	}
	got.Imports["a"] = "/changed.js"
	if other.Imports["a"] != "/a.js" {
		t.Error("Merge aliased its argument")
	}
}

func TestClone(t *testing.T) {
	im := &importmap.ImportMap{
		Imports: map[string]string{"a": "/a.js"},
		Scopes:  map[string]map[string]string{"/s/": {"b": "/b.js"}},
	}
	clone := im.Clone()
	clone.Imports["a"] = "/changed.js"
	clone.Scopes["/s/"]["b"] = "/changed.js"
	if im.Imports["a"] != "/a.js" || im.Scopes["/s/"]["b"] != "/b.js" {
		t.Error("Clone shares maps with the original")
	}
}

func TestToJSON(t *testing.T) {
	if got := (&importmap.ImportMap{}).ToJSON(); got != "" {
		t.Errorf("empty map rendered %q", got)
	}
	im := &importmap.ImportMap{Imports: map[string]string{"lit": "/node_modules/lit/index.js"}}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(im.ToJSON()), &decoded); err != nil {
		t.Fatalf("ToJSON produced invalid JSON: %v", err)
	}
	if _, ok := decoded["scopes"]; ok {
		t.Error("empty scopes should be omitted")
	}
}

func TestPackageName(t *testing.T) {
	tests := map[string]string{
		"lit":                   "lit",
		"lit/decorators.js":     "lit",
		"@lit/reactive-element": "@lit/reactive-element",
		"@scope/pkg/x/y.js":     "@scope/pkg",
		"@scope":                "",
		"./local.js":            "",
		"/abs.js":               "",
		"https://cdn.example/":  "",
		"data:text/javascript,": "",
		"":                      "",
	}
	for spec, want := range tests {
		if got := importmap.PackageName(spec); got != want {
			t.Errorf("PackageName(%q) = %q, want %q", spec, got, want)
		}
	}
}

func newProject() *mapfs.MapFileSystem {
	mfs := mapfs.New()
	mfs.AddFile("/app/package.json", `{
		"name": "my-app",
		"exports": {".": "./src/index.js", "./utils.js": "./src/utils.js"},
		"dependencies": {"lit": "^3.0.0", "missing-pkg": "^1.0.0"}
	}`, 0644)
	mfs.AddFile("/app/node_modules/lit/package.json", `{
		"name": "lit",
		"exports": {
			".": {"types": "./index.d.ts", "default": "./index.js"},
			"./decorators.js": "./decorators.js",
			"./directives/*": "./directives/*"
		},
		"dependencies": {"lit-html": "^3.0.0"}
	}`, 0644)
	mfs.AddFile("/app/node_modules/lit-html/package.json", `{
		"name": "lit-html",
		"exports": {".": "./lit-html.js"}
	}`, 0644)
	mfs.AddFile("/app/node_modules/@scope/legacy/package.json", `{
		"name": "@scope/legacy",
		"main": "lib/index.js"
	}`, 0644)
	return mfs
}

func TestGenerate(t *testing.T) {
	mfs := newProject()
	gen := importmap.NewGenerator("/app", packagejson.NewCache(mfs), log.New(io.Discard))

	im, err := gen.Generate([]string{"@scope/legacy/lib/x.js", "lit/decorators.js", "./ignored.js"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := map[string]string{
		"my-app":            "/src/index.js",
		"my-app/utils.js":   "/src/utils.js",
		"lit":               "/node_modules/lit/index.js",
		"lit/decorators.js": "/node_modules/lit/decorators.js",
		"lit/directives/":   "/node_modules/lit/directives/",
		"lit-html":          "/node_modules/lit-html/lit-html.js",
		"@scope/legacy":     "/node_modules/@scope/legacy/lib/index.js",
		"@scope/legacy/":    "/node_modules/@scope/legacy/",
	}
	if !maps.Equal(im.Imports, want) {
		t.Errorf("Imports =\n%v\nwant\n%v", im.Imports, want)
	}
}

func TestGenerateWithoutPackageJSON(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/node_modules/lit/package.json", `{"name":"lit","exports":"./index.js"}`, 0644)
	gen := importmap.NewGenerator("/app", packagejson.NewCache(mfs), log.New(io.Discard))

	im, err := gen.Generate(nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !im.Empty() {
		t.Errorf("expected an empty map, got %v", im.Imports)
	}

	im, err = gen.Generate([]string{"lit"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if im.Imports["lit"] != "/node_modules/lit/index.js" {
		t.Errorf("Imports = %v", im.Imports)
	}
}

func TestGenerateBrokenRootPackage(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/package.json", `{"name":`, 0644)
	gen := importmap.NewGenerator("/app", packagejson.NewCache(mfs), log.New(io.Discard))
	if _, err := gen.Generate(nil); err == nil {
		t.Error("expected an error for a malformed root package.json")
	}
}

func TestGenerateConditions(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/package.json", `{"dependencies":{"ui":"1"}}`, 0644)
	mfs.AddFile("/app/node_modules/ui/package.json", `{
		"name": "ui",
		"exports": {".": {"development": "./dev.js", "default": "./prod.js"}}
	}`, 0644)
	gen := importmap.NewGenerator("/app", packagejson.NewCache(mfs), log.New(io.Discard))

	im, err := gen.WithConditions([]string{"development", "default"}).Generate(nil)
	if err != nil {
		t.Fatal(err)
	}
	if im.Imports["ui"] != "/node_modules/ui/dev.js" {
		t.Errorf("ui = %q, want the development build", im.Imports["ui"])
	}
	im, err = gen.Generate(nil)
	if err != nil {
		t.Fatal(err)
	}
	if im.Imports["ui"] != "/node_modules/ui/prod.js" {
		t.Errorf("ui = %q, want the default build", im.Imports["ui"])
	}
}
