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

package scan

import (
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/internal/mapfs"
	"bennypowers.dev/hotserve/testutil"
)

type recordingNotifier struct {
	calls [][]string
}

func (r *recordingNotifier) Prune(urls []string) {
	r.calls = append(r.calls, urls)
}

func newScanner(t *testing.T, fsys *mapfs.MapFileSystem, root string, notifier Notifier) (*Scanner, *graph.Store) {
	t.Helper()
	store := graph.New()
	opts := Options{
		Root:   root,
		FS:     fsys,
		Graph:  store,
		Logger: log.New(io.Discard),
	}
	if notifier != nil {
		opts.Notifier = notifier
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, store
}

func TestPrescan(t *testing.T) {
	mfs := testutil.NewFixtureFS(t, "scan/app", "/test")
	s, store := newScanner(t, mfs, "/test", nil)

	if err := s.Prescan("/test/src/main.js"); err != nil {
		t.Fatalf("Prescan failed: %v", err)
	}

	main := store.Lookup("/test/src/main.js")
	render := store.Lookup("/test/src/lib/render.js")
	dom := store.Lookup("/test/src/lib/dom.js")
	missing := store.Lookup("/test/src/lib/missing.js")
	if main == nil || render == nil || dom == nil || missing == nil {
		t.Fatal("expected every reachable module in the graph")
	}
	if store.Len() != 5 {
		t.Errorf("expected 5 nodes, got %d", store.Len())
	}
	if !store.IsEntry(main) {
		t.Error("main.js should be an entry")
	}
	if !main.Accepts(render.ID) || main.SelfAccepting {
		t.Errorf("main.js should accept render.js only, got %v self=%v", main.Accepted(), main.SelfAccepting)
	}
	if !slices.Equal(render.Importers(), []graph.NodeID{main.ID}) {
		t.Errorf("render.js importers = %v", render.Importers())
	}
	if dom.URL != "/src/lib/dom.js" || dom.Content == "" {
		t.Errorf("dom.js should be scanned, url=%q", dom.URL)
	}
	if missing.Content != "" {
		t.Error("missing module should not have content")
	}
	if !slices.Equal(store.BareSpecifiers(), []string{"lit"}) {
		t.Errorf("bare specifiers = %v", store.BareSpecifiers())
	}

	golden := "scan/app-main.golden.js"
	testutil.UpdateGoldenFile(t, golden, []byte(main.Content))
	expected := testutil.LoadGoldenFile(t, golden)
	if expected != nil && main.Content != string(expected) {
		t.Errorf("rewritten main.js mismatch\nexpected:\n%s\ngot:\n%s", expected, main.Content)
	}
}

func TestPrescanUnreadableEntry(t *testing.T) {
	mfs := mapfs.New()
	s, _ := newScanner(t, mfs, "/app", nil)
	if err := s.Prescan("/app/main.js"); !errors.Is(err, ErrUnreadable) {
		t.Errorf("expected ErrUnreadable, got %v", err)
	}
}

func TestTransformTimestamps(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/a.js", `import { b } from "./b.js";`, 0644)
	mfs.AddFile("/app/b.js", `export const b = 1;`, 0644)
	s, store := newScanner(t, mfs, "/app", nil)

	first, err := s.Transform("/app/a.js", "/a.js")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !strings.Contains(first, `from "/b.js";`) {
		t.Errorf("unstamped import expected, got:\n%s", first)
	}

	// Same timestamp: served from cache even though the file changed.
	mfs.AddFile("/app/a.js", `import { b } from "./b.js"; console.log(b);`, 0644)
	cached, err := s.Transform("/app/a.js", "/a.js")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if cached != first {
		t.Error("expected cache hit for matching timestamp")
	}

	a := store.Lookup("/app/a.js")
	b := store.Lookup("/app/b.js")
	b.ModifyTimestamp = 100
	a.LastModifyTimestamp = a.ModifyTimestamp
	a.ModifyTimestamp = 100
	a.Content = ""

	fresh, err := s.Transform("/app/a.js", "/a.js?t=100")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !strings.Contains(fresh, `from "/b.js?t=100";`) || !strings.Contains(fresh, "console.log(b)") {
		t.Errorf("expected rescanned, stamped output, got:\n%s", fresh)
	}
	if a.LastModifyTimestamp != 100 {
		t.Errorf("LastModifyTimestamp = %d, want 100", a.LastModifyTimestamp)
	}

	// A request carrying the previous timestamp still hits the cache.
	again, err := s.Transform("/app/a.js", "/a.js?t=100&import")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if again != fresh {
		t.Error("expected cache hit after rescan")
	}
}

func TestTransformSetsURL(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/src/a.js", `export {};`, 0644)
	s, store := newScanner(t, mfs, "/app", nil)

	out, err := s.Transform("/app/src/a.js", "/src/./a.js?t=5")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if store.LookupURL("/src/a.js") == nil {
		t.Error("node should be reachable by its cleaned request path")
	}
	if !strings.HasPrefix(out, prologue("/src/a.js")) {
		t.Errorf("missing prologue:\n%s", out)
	}
}

func TestTransformMissingFile(t *testing.T) {
	mfs := mapfs.New()
	s, store := newScanner(t, mfs, "/app", nil)

	_, err := s.Transform("/app/missing.js", "/missing.js")
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
	if store.Lookup("/app/missing.js") != nil || store.LookupURL("/missing.js") != nil {
		t.Error("a failed fetch of an unknown module should leave no node behind")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d nodes, want 0", store.Len())
	}
}

func TestScanErrors(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/a.js", `import "./b.js";`, 0644)
	s, store := newScanner(t, mfs, "/app", nil)

	if _, err := s.Scan("/app/a.js"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	a := store.Lookup("/app/a.js")
	good := a.Content

	tests := []struct {
		name    string
		content string
		remove  bool
		want    error
	}{
		{name: "syntax error", content: `import { from "./c.js";`, want: ErrUnparsable},
		{name: "non-literal accept", content: `import "./c.js"; import.meta.hot.accept([dep]);`, want: ErrUnparsable},
		{name: "unreadable", remove: true, want: ErrUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.remove {
				mfs.RemoveFile("/app/a.js")
			} else {
				mfs.AddFile("/app/a.js", tt.content, 0644)
			}
			out, err := s.Scan("/app/a.js")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if out != "" {
				t.Error("failed scan must not return text")
			}
			if a.Content != good {
				t.Error("failed scan must not touch cached content")
			}
			imports := a.Imports()
			if len(imports) != 1 || imports[0].Specifier != "./b.js" {
				t.Errorf("failed scan must not touch edges, got %v", imports)
			}
		})
	}
}

func TestScanPrune(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/a.js", "import './b.js';\nimport './c.js';\n", 0644)
	mfs.AddFile("/app/b.js", "export {};\n", 0644)
	mfs.AddFile("/app/c.js", "export {};\n", 0644)
	notifier := &recordingNotifier{}
	s, store := newScanner(t, mfs, "/app", notifier)

	for _, id := range []string{"/app/a.js", "/app/b.js", "/app/c.js"} {
		if _, err := s.Scan(id); err != nil {
			t.Fatalf("Scan %s failed: %v", id, err)
		}
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("unexpected prune: %v", notifier.calls)
	}

	mfs.AddFile("/app/a.js", "import './c.js';\n", 0644)
	for range 2 {
		if _, err := s.Scan("/app/a.js"); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
	}
	if len(notifier.calls) != 1 || !slices.Equal(notifier.calls[0], []string{"/b.js"}) {
		t.Errorf("expected a single prune of /b.js, got %v", notifier.calls)
	}
	if store.Lookup("/app/b.js") == nil {
		t.Error("pruned node must stay in the graph")
	}
}

func TestScanAccept(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		self     bool
		accepts  []string
		contains string
	}{
		{
			name:    "self accepting",
			content: "import.meta.hot.accept();\n",
			self:    true,
		},
		{
			name:     "single dependency",
			content:  "import { b } from './b.js';\nimport.meta.hot.accept('./b.js', (b) => {});\n",
			accepts:  []string{"/app/src/b.js"},
			contains: "import.meta.hot.accept('/src/b.js', (b) => {});",
		},
		{
			name:     "root-absolute dependency",
			content:  "import '/lib/c.js';\nimport.meta.hot.accept([\"/lib/c.js\"]);\n",
			accepts:  []string{"/app/lib/c.js"},
			contains: `import.meta.hot.accept(["/lib/c.js"]);`,
		},
		{
			name:    "prune and invalidate untouched",
			content: "import.meta.hot.prune(() => {});\nimport.meta.hot.invalidate();\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := mapfs.New()
			mfs.AddFile("/app/src/a.js", tt.content, 0644)
			s, store := newScanner(t, mfs, "/app", nil)

			out, err := s.Scan("/app/src/a.js")
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			a := store.Lookup("/app/src/a.js")
			if a.SelfAccepting != tt.self {
				t.Errorf("SelfAccepting = %v, want %v", a.SelfAccepting, tt.self)
			}
			var accepts []string
			for _, id := range a.Accepted() {
				if id != a.ID {
					accepts = append(accepts, store.Node(id).Identity)
				}
			}
			if !slices.Equal(accepts, tt.accepts) {
				t.Errorf("accepts = %v, want %v", accepts, tt.accepts)
			}
			if tt.contains != "" && !strings.Contains(out, tt.contains) {
				t.Errorf("expected %q in:\n%s", tt.contains, out)
			}
			if !strings.HasSuffix(out, tt.content) && tt.contains == "" {
				t.Errorf("source should be unchanged after the prologue:\n%s", out)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	s, _ := newScanner(t, mapfs.New(), "/app", nil)

	tests := []struct {
		spec string
		want string
		ok   bool
	}{
		{"./a.js", "/app/src/a.js", true},
		{"../lib/b.js?inline#x", "/app/lib/b.js", true},
		{"/lib/c.js", "/app/lib/c.js", true},
		{"lit", "", false},
		{"@scope/pkg/sub.js", "", false},
		{"https://esm.sh/lit", "", false},
		{"//cdn.example.com/x.js", "", false},
		{"../../outside.js", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, ok := s.resolve("/app/src", tt.spec)
			if ok != tt.ok || got != tt.want {
				t.Errorf("resolve(%q) = %q, %v; want %q, %v", tt.spec, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTracks(t *testing.T) {
	s, _ := newScanner(t, mapfs.New(), "/app", nil)
	for name, want := range map[string]bool{
		"/app/a.js":     true,
		"/app/a.mjs":    true,
		"/app/a.css":    false,
		"/app/index.ts": false,
	} {
		if got := s.Tracks(name); got != want {
			t.Errorf("Tracks(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSplitRequest(t *testing.T) {
	tests := []struct {
		in   string
		path string
		t    int64
	}{
		{"/src/a.js", "/src/a.js", 0},
		{"/src/a.js?t=123", "/src/a.js", 123},
		{"/src/../a.js?t=bad", "/a.js", 0},
		{"/a.js?import&t=7", "/a.js", 7},
	}
	for _, tt := range tests {
		p, ts := splitRequest(tt.in)
		if p != tt.path || ts != tt.t {
			t.Errorf("splitRequest(%q) = %q, %d; want %q, %d", tt.in, p, ts, tt.path, tt.t)
		}
	}
}
