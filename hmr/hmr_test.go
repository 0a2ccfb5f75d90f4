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

package hmr

import (
	"io"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/internal/mapfs"
	"bennypowers.dev/hotserve/protocol"
	"bennypowers.dev/hotserve/scan"
)

type recordingBroadcaster struct {
	messages []protocol.Message
}

func (r *recordingBroadcaster) Broadcast(msg protocol.Message) {
	r.messages = append(r.messages, msg)
}

// fixture builds a graph from "importer -> imported" pairs over modules
// named like "a", served at "/a.js".
type fixture struct {
	store  *graph.Store
	engine *Engine
	out    *recordingBroadcaster
}

func newFixture(t *testing.T, imports map[string][]string) *fixture {
	t.Helper()
	f := &fixture{store: graph.New(), out: &recordingBroadcaster{}}
	for _, name := range slices.Sorted(maps.Keys(imports)) {
		n := f.node(name)
		var edges []graph.Edge
		for _, dep := range imports[name] {
			edges = append(edges, graph.Edge{Specifier: "./" + dep + ".js", Identity: "/app/" + dep + ".js"})
		}
		f.store.ReconcileEdges(n, edges)
	}
	for id := range f.store.Len() {
		n := f.store.Node(graph.NodeID(id))
		f.store.SetURL(n, strings.TrimPrefix(n.Identity, "/app"))
	}
	f.engine = New(f.store, f.out, log.New(io.Discard))
	f.engine.now = func() int64 { return 1000 }
	return f
}

func (f *fixture) node(name string) *graph.Node {
	return f.store.GetOrCreate("/app/" + name + ".js")
}

func (f *fixture) accept(name string, deps ...string) {
	var ids []graph.NodeID
	for _, dep := range deps {
		ids = append(ids, f.node(dep).ID)
	}
	f.store.SetAccepted(f.node(name), ids, false)
}

func (f *fixture) selfAccept(name string) {
	f.store.SetAccepted(f.node(name), nil, true)
}

func (f *fixture) update(names ...string) Result {
	var ids []graph.NodeID
	for _, name := range names {
		ids = append(ids, f.node(name).ID)
	}
	return f.engine.Update(ids, f.engine.Timestamp())
}

func TestSelfAcceptBoundary(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"leaf"}})
	f.selfAccept("leaf")

	result := f.update("leaf")
	if result.FullReload {
		t.Fatal("expected hot update, got full reload")
	}
	want := []protocol.Update{{Type: "js-update", Path: "/leaf.js", AcceptedPath: "/leaf.js", Timestamp: 1000}}
	if !slices.Equal(result.Updates, want) {
		t.Errorf("updates = %+v, want %+v", result.Updates, want)
	}
	if len(f.out.messages) != 1 || f.out.messages[0].Type != protocol.TypeUpdate {
		t.Errorf("expected one hmr message, got %+v", f.out.messages)
	}
}

func TestAcceptingParentBoundary(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"mid"}, "mid": {"leaf"}})
	f.accept("mid", "leaf")

	result := f.update("leaf")
	want := []protocol.Update{{Type: "js-update", Path: "/mid.js", AcceptedPath: "/leaf.js", Timestamp: 1000}}
	if !slices.Equal(result.Updates, want) {
		t.Errorf("updates = %+v, want %+v", result.Updates, want)
	}

	// Invalidation stops at the accepting importer.
	if got := f.node("mid").ModifyTimestamp; got != 1000 {
		t.Errorf("accepting importer should be stamped, got %d", got)
	}
	if got := f.node("main").ModifyTimestamp; got != 0 {
		t.Errorf("main should not be invalidated, got %d", got)
	}
}

func TestDeadEnd(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"leaf"}})

	result := f.update("leaf")
	if !result.FullReload || len(result.Updates) != 0 {
		t.Fatalf("expected full reload, got %+v", result)
	}
	if len(f.out.messages) != 1 || f.out.messages[0].Type != protocol.TypeFullReload {
		t.Errorf("expected exactly one full-reload, got %+v", f.out.messages)
	}
}

func TestDeadEndWinsOverBoundaries(t *testing.T) {
	// leaf is accepted through a, but b leads to an unaccepting root.
	f := newFixture(t, map[string][]string{"a": {"leaf"}, "b": {"leaf"}})
	f.accept("a", "leaf")

	result := f.update("leaf")
	if !result.FullReload {
		t.Fatalf("expected full reload, got %+v", result)
	}
	if len(f.out.messages) != 1 || f.out.messages[0].Type != protocol.TypeFullReload {
		t.Errorf("no hmr message may accompany a full reload, got %+v", f.out.messages)
	}
}

func TestCycleWithBoundary(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"x"}, "x": {"y"}, "y": {"x"}})
	f.accept("main", "x")

	boundaries, deadEnd := f.engine.Propagate(f.node("y").ID)
	if deadEnd {
		t.Fatal("a cycle that reaches an accepting importer should not be a dead end")
	}
	want := []Boundary{{Boundary: f.node("main").ID, AcceptedVia: f.node("x").ID}}
	if !slices.Equal(boundaries, want) {
		t.Errorf("boundaries = %+v, want %+v", boundaries, want)
	}

	result := f.engine.Update([]graph.NodeID{f.node("y").ID}, 2000)
	if result.FullReload {
		t.Fatal("expected a hot update, got a full reload")
	}
	if len(result.Updates) != 1 || result.Updates[0].Path != "/main.js" || result.Updates[0].AcceptedPath != "/x.js" {
		t.Errorf("unexpected updates %+v", result.Updates)
	}
}

func TestCycleWithBoundaryReverseOrder(t *testing.T) {
	// Here the accepting importer is created after the cycle members.
	f := newFixture(t, map[string][]string{"a": {"b"}, "b": {"a"}, "z": {"a"}})
	f.accept("z", "a")

	boundaries, deadEnd := f.engine.Propagate(f.node("b").ID)
	if deadEnd {
		t.Fatal("a cycle that reaches an accepting importer should not be a dead end")
	}
	if len(boundaries) != 1 || boundaries[0].Boundary != f.node("z").ID {
		t.Errorf("expected z as the only boundary, got %+v", boundaries)
	}
}

func TestCycleWithoutBoundaryIsDeadEnd(t *testing.T) {
	f := newFixture(t, map[string][]string{"a": {"b"}, "b": {"a"}})

	if _, deadEnd := f.engine.Propagate(f.node("b").ID); !deadEnd {
		t.Error("a closed cycle nothing accepts should be a dead end")
	}
	if !f.engine.Update([]graph.NodeID{f.node("b").ID}, 2000).FullReload {
		t.Error("expected a full reload")
	}
}

func TestDiamond(t *testing.T) {
	// leaf reaches top through both left and right.
	f := newFixture(t, map[string][]string{
		"top":   {"left", "right"},
		"left":  {"leaf"},
		"right": {"leaf"},
	})
	f.selfAccept("top")

	boundaries, deadEnd := f.engine.Propagate(f.node("leaf").ID)
	if deadEnd {
		t.Fatal("diamond should not be a dead end")
	}
	if len(boundaries) != 1 || boundaries[0].Boundary != f.node("top").ID {
		t.Errorf("expected top once, got %+v", boundaries)
	}
}

func TestBatchDeduplicates(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"a", "b"}})
	f.selfAccept("main")

	result := f.update("a", "b")
	if len(result.Updates) != 1 || result.Updates[0].Path != "/main.js" {
		t.Errorf("expected a single update for main, got %+v", result.Updates)
	}
	if len(f.out.messages) != 1 {
		t.Errorf("expected one message per batch, got %d", len(f.out.messages))
	}
}

func TestEmptyBatch(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": nil})
	if result := f.engine.Update(nil, 1); result.FullReload || len(result.Updates) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(f.out.messages) != 0 {
		t.Errorf("empty batch broadcast %+v", f.out.messages)
	}
}

func TestInvalidateRequest(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"mid"}, "mid": {"leaf"}})
	f.selfAccept("main")

	if result := f.engine.InvalidateRequest("/unknown.js"); result.FullReload || len(result.Updates) != 0 {
		t.Errorf("unknown module should be a no-op, got %+v", result)
	}
	if len(f.out.messages) != 0 {
		t.Fatalf("unknown module broadcast %+v", f.out.messages)
	}

	result := f.engine.InvalidateRequest("/leaf.js?t=5")
	if len(result.Updates) != 1 || result.Updates[0].Path != "/main.js" || result.Updates[0].AcceptedPath != "/main.js" {
		t.Errorf("expected main to self-accept, got %+v", result.Updates)
	}
	if f.node("mid").ModifyTimestamp == 0 {
		t.Error("importers of the invalidated module should be stamped")
	}

	if result := f.engine.InvalidateRequest("/main.js"); !result.FullReload {
		t.Errorf("module without importers should reload, got %+v", result)
	}
}

func TestTimestampMonotonic(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": nil})
	first := f.engine.Timestamp()
	second := f.engine.Timestamp()
	if second <= first {
		t.Errorf("timestamps must increase: %d then %d", first, second)
	}
}

func TestRepeatedStampKeepsLast(t *testing.T) {
	f := newFixture(t, map[string][]string{"main": {"a", "b"}})
	f.selfAccept("main")
	main := f.node("main")
	main.ModifyTimestamp = 500

	f.update("a", "b")
	if main.LastModifyTimestamp != 500 || main.ModifyTimestamp != 1000 {
		t.Errorf("stamps = last %d, modify %d; want 500, 1000", main.LastModifyTimestamp, main.ModifyTimestamp)
	}
}

func TestEndToEnd(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/app/root.js", "import { mid } from './mid.js';\nimport.meta.hot.accept(['./mid.js'], ([m]) => m.mid());\n", 0644)
	mfs.AddFile("/app/mid.js", "import { leaf } from './leaf.js';\nexport const mid = () => leaf;\n", 0644)
	mfs.AddFile("/app/leaf.js", "export const leaf = 1;\n", 0644)

	store := graph.New()
	out := &recordingBroadcaster{}
	s, err := scan.New(scan.Options{Root: "/app", FS: mfs, Graph: store, Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatalf("scan.New failed: %v", err)
	}
	if err := s.Prescan("/app/root.js"); err != nil {
		t.Fatalf("Prescan failed: %v", err)
	}

	engine := New(store, out, log.New(io.Discard))
	engine.now = func() int64 { return 1700000000000 }

	mfs.AddFile("/app/leaf.js", "export const leaf = 2;\n", 0644)
	leaf := store.Lookup("/app/leaf.js")
	result := engine.Update([]graph.NodeID{leaf.ID}, engine.Timestamp())

	want := []protocol.Update{{Type: "js-update", Path: "/root.js", AcceptedPath: "/mid.js", Timestamp: 1700000000000}}
	if !slices.Equal(result.Updates, want) {
		t.Fatalf("updates = %+v, want %+v", result.Updates, want)
	}
	for _, name := range []string{"/app/leaf.js", "/app/mid.js", "/app/root.js"} {
		n := store.Lookup(name)
		if n.ModifyTimestamp != 1700000000000 || n.Content != "" {
			t.Errorf("%s should be stamped and cleared, t=%d", name, n.ModifyTimestamp)
		}
	}

	// The client re-imports mid with the token; its text points at the new leaf.
	midText, err := s.Transform("/app/mid.js", "/mid.js?t=1700000000000")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !strings.Contains(midText, "'/leaf.js?t=1700000000000'") {
		t.Errorf("mid.js should import the stamped leaf:\n%s", midText)
	}
	leafText, err := s.Transform("/app/leaf.js", "/leaf.js?t=1700000000000")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !strings.Contains(leafText, "leaf = 2") {
		t.Errorf("leaf.js should be fresh:\n%s", leafText)
	}

	rootText, err := s.Transform("/app/root.js", "/root.js")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !strings.Contains(rootText, "'/mid.js?t=1700000000000'") {
		t.Errorf("root.js should import the stamped mid:\n%s", rootText)
	}
}
