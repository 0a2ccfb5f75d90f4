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

package devserver

import (
	"context"
	"path/filepath"
	"strings"

	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/hmr"
	"bennypowers.dev/hotserve/protocol"
	"bennypowers.dev/hotserve/watch"
)

// HandleEvents applies a watcher batch on the reaction loop. It has the
// signature of watch.Config.OnChange.
func (s *Server) HandleEvents(ctx context.Context, events []watch.Event) {
	if err := s.do(ctx, func() { s.apply(events) }); err != nil {
		s.logger.Debug("dropped file events", "events", len(events), "err", err)
	}
}

// apply turns file events into one update: a full reload when a page or a
// package manifest changed, otherwise hot updates for the affected modules.
func (s *Server) apply(events []watch.Event) hmr.Result {
	var (
		ids    []graph.NodeID
		reload string
	)
	for _, evt := range events {
		switch {
		case filepath.Base(evt.Path) == "package.json":
			s.pkgs.Invalidate(evt.Path)
			if reload == "" {
				reload = evt.Path
			}
		case strings.HasSuffix(evt.Path, ".html"):
			if reload == "" {
				reload = evt.Path
			}
		case s.scanner.Tracks(evt.Path):
			if id, ok := s.affected(evt); ok {
				ids = append(ids, id)
			}
		default:
			s.logger.Debug("ignoring change", "op", evt.Op, "path", evt.Path)
		}
	}

	if reload != "" {
		s.logger.Info("full reload", "changed", reload)
		s.hub.Broadcast(protocol.NewFullReloadMessage())
		return hmr.Result{FullReload: true}
	}
	if len(ids) == 0 {
		return hmr.Result{}
	}
	return s.engine.Update(ids, s.engine.Timestamp())
}

// affected returns the module a tracked file event updates, if any.
func (s *Server) affected(evt watch.Event) (graph.NodeID, bool) {
	n := s.graph.Lookup(evt.Path)
	if n == nil {
		s.logger.Debug("change to a module not in the graph", "op", evt.Op, "path", evt.Path)
		return 0, false
	}

	switch evt.Op {
	case watch.Removed:
		if orphans := s.graph.Detach(n); len(orphans) > 0 {
			s.hub.Prune(orphans)
		}
		n.Content = ""
	case watch.Added:
		// Only a module something already imports can be waiting for it.
		if !n.HasImporters() {
			return 0, false
		}
	}
	s.logger.Debug("module event", "op", evt.Op, "url", n.URL)
	return n.ID, true
}
