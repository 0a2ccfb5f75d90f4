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

package graph

// ModuleSnapshot is the JSON view of one node.
type ModuleSnapshot struct {
	ID            NodeID            `json:"id"`
	Identity      string            `json:"identity"`
	URL           string            `json:"url,omitempty"`
	Entry         bool              `json:"entry,omitempty"`
	Imports       map[string]string `json:"imports,omitempty"`
	Importers     []string          `json:"importers,omitempty"`
	Accepts       []string          `json:"accepts,omitempty"`
	SelfAccepting bool              `json:"selfAccepting,omitempty"`
	Timestamp     int64             `json:"timestamp,omitempty"`
}

// Snapshot is the JSON view of the whole store.
type Snapshot struct {
	Modules        []ModuleSnapshot `json:"modules"`
	BareSpecifiers []string         `json:"bareSpecifiers,omitempty"`
}

// Snapshot captures the current graph, modules in id order. Edges are
// reported by identity.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Modules:        make([]ModuleSnapshot, 0, len(s.nodes)),
		BareSpecifiers: s.BareSpecifiers(),
	}
	for _, n := range s.nodes {
		mod := ModuleSnapshot{
			ID:            n.ID,
			Identity:      n.Identity,
			URL:           n.URL,
			Entry:         s.IsEntry(n),
			SelfAccepting: n.SelfAccepting,
			Timestamp:     n.ModifyTimestamp,
		}
		if len(n.imports) > 0 {
			mod.Imports = make(map[string]string, len(n.imports))
			for spec, id := range n.imports {
				mod.Imports[spec] = s.nodes[id].Identity
			}
		}
		for _, id := range n.Importers() {
			mod.Importers = append(mod.Importers, s.nodes[id].Identity)
		}
		for _, id := range n.Accepted() {
			mod.Accepts = append(mod.Accepts, s.nodes[id].Identity)
		}
		snap.Modules = append(snap.Modules, mod)
	}
	return snap
}
