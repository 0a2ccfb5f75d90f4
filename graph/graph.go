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

// Package graph is the module graph store: one node per source file, with
// import edges and their reverse importer edges kept in lockstep.
//
// Nodes live in an arena and refer to each other by NodeID, so import
// cycles are plain index cycles. Nodes are never deleted; only their edges
// are pruned.
//
// A Store is not safe for concurrent use. The dev server mutates it from a
// single reaction loop.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrIdentityReassigned is returned when assigning a second, different
// identity to a node.
var ErrIdentityReassigned = errors.New("module identity already assigned")

// NodeID addresses a node in the store's arena.
type NodeID int

// Node is the graph state of one source module.
type Node struct {
	ID NodeID

	// Identity is the canonical absolute path. Empty until assigned.
	Identity string
	// URL is the browser-facing path without query, set lazily.
	URL string

	// specifiers keeps imports in first-seen order; imports maps each
	// specifier as written to the imported node.
	specifiers []string
	imports    map[string]NodeID

	importers map[NodeID]struct{}
	accepted  map[NodeID]struct{}

	// SelfAccepting is true when the module accepts updates to itself.
	SelfAccepting bool

	// Content is the cached rewritten source, empty when stale.
	Content string

	// ModifyTimestamp is the version stamp of the last change, in Unix
	// milliseconds. LastModifyTimestamp is the stamp the cached content
	// was last requested under.
	ModifyTimestamp     int64
	LastModifyTimestamp int64
}

// Imports returns the imported nodes keyed by specifier, in source order.
func (n *Node) Imports() []Import {
	result := make([]Import, 0, len(n.specifiers))
	for _, spec := range n.specifiers {
		result = append(result, Import{Specifier: spec, Target: n.imports[spec]})
	}
	return result
}

// Importers returns the ids of modules importing n, sorted.
func (n *Node) Importers() []NodeID {
	return sortedIDs(n.importers)
}

// HasImporters reports whether any module imports n.
func (n *Node) HasImporters() bool {
	return len(n.importers) > 0
}

// Accepted returns the ids of modules n accepts updates from, sorted.
func (n *Node) Accepted() []NodeID {
	return sortedIDs(n.accepted)
}

// Accepts reports whether n declared it hot-accepts dep.
func (n *Node) Accepts(dep NodeID) bool {
	_, ok := n.accepted[dep]
	return ok
}

// Import is a resolved import edge.
type Import struct {
	Specifier string
	Target    NodeID
}

// Edge is an import as seen by the scanner: the specifier as written and
// the canonical identity it resolved to.
type Edge struct {
	Specifier string
	Identity  string
}

// Store is the authoritative map from module identity to node state.
type Store struct {
	nodes      []*Node
	byIdentity map[string]NodeID
	byURL      map[string]NodeID
	entries    map[NodeID]struct{}

	// bareSpecifiers collects bare import specifiers seen by the scanner.
	bareSpecifiers map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byIdentity:     make(map[string]NodeID),
		byURL:          make(map[string]NodeID),
		entries:        make(map[NodeID]struct{}),
		bareSpecifiers: make(map[string]struct{}),
	}
}

// Len returns the number of nodes in the store.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Node returns the node with the given id. It panics on ids the store did
// not issue.
func (s *Store) Node(id NodeID) *Node {
	return s.nodes[id]
}

// Create adds a node with no identity yet.
func (s *Store) Create() *Node {
	n := &Node{
		ID:        NodeID(len(s.nodes)),
		imports:   make(map[string]NodeID),
		importers: make(map[NodeID]struct{}),
		accepted:  make(map[NodeID]struct{}),
	}
	s.nodes = append(s.nodes, n)
	return n
}

// Assign gives n its identity. Assigning the identity n already has is a
// no-op; anything else after the first assignment is an error.
func (s *Store) Assign(n *Node, identity string) error {
	if n.Identity == identity {
		return nil
	}
	if n.Identity != "" {
		return fmt.Errorf("%w: %s -> %s", ErrIdentityReassigned, n.Identity, identity)
	}
	if other, ok := s.byIdentity[identity]; ok {
		return fmt.Errorf("%w: %s is node %d", ErrIdentityReassigned, identity, other)
	}
	n.Identity = identity
	s.byIdentity[identity] = n.ID
	return nil
}

// GetOrCreate returns the node for identity, creating it on first reference.
func (s *Store) GetOrCreate(identity string) *Node {
	if id, ok := s.byIdentity[identity]; ok {
		return s.nodes[id]
	}
	n := s.Create()
	n.Identity = identity
	s.byIdentity[identity] = n.ID
	return n
}

// Lookup returns the node for identity, or nil.
func (s *Store) Lookup(identity string) *Node {
	if id, ok := s.byIdentity[identity]; ok {
		return s.nodes[id]
	}
	return nil
}

// LookupURL returns the node served at url, or nil.
func (s *Store) LookupURL(url string) *Node {
	if id, ok := s.byURL[url]; ok {
		return s.nodes[id]
	}
	return nil
}

// SetURL records the browser-facing path of n.
func (s *Store) SetURL(n *Node, url string) {
	if n.URL == url {
		return
	}
	if n.URL != "" && s.byURL[n.URL] == n.ID {
		delete(s.byURL, n.URL)
	}
	n.URL = url
	if url != "" {
		s.byURL[url] = n.ID
	}
}

// MarkEntry records n as an entry point. Entries are never reported as
// orphans.
func (s *Store) MarkEntry(n *Node) {
	s.entries[n.ID] = struct{}{}
}

// IsEntry reports whether n is an entry point.
func (s *Store) IsEntry(n *Node) bool {
	_, ok := s.entries[n.ID]
	return ok
}

// SetAccepted replaces the accepted dependencies of n. When self is true n
// is self-accepting and accepts itself.
func (s *Store) SetAccepted(n *Node, deps []NodeID, self bool) {
	clear(n.accepted)
	for _, dep := range deps {
		n.accepted[dep] = struct{}{}
	}
	n.SelfAccepting = self
	if self {
		n.accepted[n.ID] = struct{}{}
	}
}

// ReconcileEdges replaces the imports of n with edges and updates the
// importer sets of every node gained or lost. It returns the URLs of nodes
// that lost their last importer, which the client should tear down.
//
// Runs in O(len(edges) + previous edge count).
func (s *Store) ReconcileEdges(n *Node, edges []Edge) []string {
	prevTargets := make(map[NodeID]struct{}, len(n.imports))
	for _, id := range n.imports {
		prevTargets[id] = struct{}{}
	}

	nextSpecifiers := make([]string, 0, len(edges))
	nextImports := make(map[string]NodeID, len(edges))
	nextTargets := make(map[NodeID]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := nextImports[e.Specifier]; dup {
			continue
		}
		var target *Node
		if id, ok := n.imports[e.Specifier]; ok && s.nodes[id].Identity == e.Identity {
			target = s.nodes[id]
		} else {
			target = s.GetOrCreate(e.Identity)
		}
		target.importers[n.ID] = struct{}{}
		nextSpecifiers = append(nextSpecifiers, e.Specifier)
		nextImports[e.Specifier] = target.ID
		nextTargets[target.ID] = struct{}{}
	}

	var orphans []string
	seen := make(map[string]struct{})
	for _, id := range sortedIDs(prevTargets) {
		if _, still := nextTargets[id]; still {
			continue
		}
		target := s.nodes[id]
		delete(target.importers, n.ID)
		if len(target.importers) > 0 || s.IsEntry(target) || target.URL == "" {
			continue
		}
		if _, dup := seen[target.URL]; dup {
			continue
		}
		seen[target.URL] = struct{}{}
		orphans = append(orphans, target.URL)
	}

	n.specifiers = nextSpecifiers
	n.imports = nextImports
	return orphans
}

// Detach removes every import edge of n, as when its file is deleted.
func (s *Store) Detach(n *Node) []string {
	return s.ReconcileEdges(n, nil)
}

// AddBareSpecifier records a bare specifier seen while scanning.
func (s *Store) AddBareSpecifier(spec string) {
	s.bareSpecifiers[spec] = struct{}{}
}

// BareSpecifiers returns a sorted slice of all bare specifiers seen.
func (s *Store) BareSpecifiers() []string {
	return slices.Sorted(maps.Keys(s.bareSpecifiers))
}

func sortedIDs(set map[NodeID]struct{}) []NodeID {
	return slices.Sorted(maps.Keys(set))
}
