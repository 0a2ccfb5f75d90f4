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

// Package hmr decides how a change to a set of modules reaches the browser.
//
// A change invalidates the cached text of the changed modules and of every
// importer that does not accept them, then walks importer edges upward
// looking for boundaries: modules that accept the update, either for
// themselves or on behalf of the dependency the walk came from. If any walk
// reaches a module nothing accepts, the page has to reload.
package hmr

import (
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/protocol"
)

// Broadcaster delivers a message to every connected client.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// Boundary is a module that accepts an update, and the module it accepts it
// through. Self-accepting modules are their own AcceptedVia.
type Boundary struct {
	Boundary    graph.NodeID
	AcceptedVia graph.NodeID
}

// Result reports what an update broadcast.
type Result struct {
	FullReload bool
	Updates    []protocol.Update
}

// Engine runs invalidation and propagation over a graph. Like the graph, it
// is not safe for concurrent use.
type Engine struct {
	graph       *graph.Store
	broadcaster Broadcaster
	logger      *log.Logger
	now         func() int64
	last        int64
}

// New creates an Engine broadcasting through b.
func New(store *graph.Store, b Broadcaster, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		graph:       store,
		broadcaster: b,
		logger:      logger.WithPrefix("hmr"),
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

// Timestamp returns the current time in Unix milliseconds, strictly greater
// than any timestamp returned before. Browsers cache modules by URL, so two
// updates must never share a token.
func (e *Engine) Timestamp() int64 {
	ts := e.now()
	if ts <= e.last {
		ts = e.last + 1
	}
	e.last = ts
	return ts
}

func (e *Engine) stamp(n *graph.Node, ts int64) {
	if n.ModifyTimestamp != ts {
		n.LastModifyTimestamp = n.ModifyTimestamp
		n.ModifyTimestamp = ts
	}
	n.Content = ""
}

// Invalidate stamps the node with ts and drops its cached text, then does
// the same for every importer up the graph until it meets an importer that
// accepts the module below it. Accepting importers are stamped too, since
// their text embeds the dependency's timestamp, but the walk stops there.
// processed collects the nodes already walked and may be shared across a
// batch.
func (e *Engine) Invalidate(id graph.NodeID, ts int64, processed map[graph.NodeID]struct{}) {
	n := e.graph.Node(id)
	e.stamp(n, ts)
	if _, ok := processed[id]; ok {
		return
	}
	processed[id] = struct{}{}

	for _, p := range n.Importers() {
		importer := e.graph.Node(p)
		if importer.Accepts(id) {
			e.stamp(importer, ts)
			continue
		}
		e.Invalidate(p, ts, processed)
	}
}

// Propagate finds the boundaries that accept a change to id. deadEnd is true
// when some path reaches a module with no importers and no acceptance, or
// when no boundary is found at all; the caller must then reload instead.
// Importers already on the current chain are skipped, so a cycle only
// reloads when nothing outside it accepts the change.
func (e *Engine) Propagate(id graph.NodeID) (boundaries []Boundary, deadEnd bool) {
	explored := make(map[graph.NodeID]struct{})
	chain := make(map[graph.NodeID]struct{})
	if e.propagate(id, explored, chain, &boundaries) {
		return nil, true
	}
	if len(boundaries) == 0 {
		return nil, true
	}
	return boundaries, false
}

func (e *Engine) propagate(id graph.NodeID, explored, chain map[graph.NodeID]struct{}, out *[]Boundary) bool {
	explored[id] = struct{}{}
	n := e.graph.Node(id)

	if n.SelfAccepting {
		*out = append(*out, Boundary{Boundary: id, AcceptedVia: id})
		return false
	}
	if !n.HasImporters() {
		e.logger.Debug("dead end", "module", n.URL)
		return true
	}

	chain[id] = struct{}{}
	defer delete(chain, id)

	for _, p := range n.Importers() {
		parent := e.graph.Node(p)
		if parent.Accepts(id) {
			*out = append(*out, Boundary{Boundary: p, AcceptedVia: id})
			continue
		}
		if _, ok := chain[p]; ok {
			e.logger.Debug("circular import", "module", n.URL, "importer", parent.URL)
			continue
		}
		if _, ok := explored[p]; ok {
			continue
		}
		if e.propagate(p, explored, chain, out) {
			return true
		}
	}
	return false
}

// Update invalidates and propagates each of ids under timestamp ts, then
// broadcasts either a single full reload or one hmr message carrying every
// boundary update. An empty batch broadcasts nothing.
func (e *Engine) Update(ids []graph.NodeID, ts int64) Result {
	if len(ids) == 0 {
		return Result{}
	}

	processed := make(map[graph.NodeID]struct{})
	seen := make(map[Boundary]struct{})
	var updates []protocol.Update

	for _, id := range ids {
		e.Invalidate(id, ts, processed)
		boundaries, deadEnd := e.Propagate(id)
		if deadEnd {
			e.logger.Info("full reload", "module", e.graph.Node(id).URL)
			e.broadcast(protocol.NewFullReloadMessage())
			return Result{FullReload: true}
		}
		for _, b := range boundaries {
			if _, dup := seen[b]; dup {
				continue
			}
			seen[b] = struct{}{}
			boundary := e.graph.Node(b.Boundary)
			via := e.graph.Node(b.AcceptedVia)
			if boundary.URL == "" || via.URL == "" {
				// Never served, so no client holds it.
				e.logger.Debug("skipping unserved boundary", "boundary", boundary.Identity, "via", via.Identity)
				continue
			}
			updates = append(updates, protocol.Update{
				Type:         protocol.UpdateJS,
				Path:         boundary.URL,
				AcceptedPath: via.URL,
				Timestamp:    ts,
			})
		}
	}

	if len(updates) == 0 {
		return Result{}
	}
	for _, u := range updates {
		e.logger.Info("hot update", "boundary", u.Path, "via", u.AcceptedPath)
	}
	e.broadcast(protocol.NewUpdateMessage(updates))
	return Result{Updates: updates}
}

// InvalidateRequest handles a client that could not apply an update to the
// module at url: its importers are updated instead. Unknown modules are
// ignored; a module with no importers reloads the page.
func (e *Engine) InvalidateRequest(url string) Result {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = path.Clean("/" + url)

	n := e.graph.LookupURL(url)
	if n == nil {
		e.logger.Warn("invalidate for unknown module", "url", url)
		return Result{}
	}
	if !n.HasImporters() {
		e.logger.Info("full reload", "module", url, "reason", "invalidated with no importers")
		e.broadcast(protocol.NewFullReloadMessage())
		return Result{FullReload: true}
	}
	e.logger.Debug("invalidated by client", "module", url)
	return e.Update(n.Importers(), e.Timestamp())
}

func (e *Engine) broadcast(msg protocol.Message) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(msg)
	}
}
