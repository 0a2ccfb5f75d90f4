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

// Package devserver serves a source tree to the browser and keeps it live.
//
// Every operation touching the module graph (HTTP module fetches, watcher
// batches, client invalidations) is submitted to a single reaction loop
// started by Run and executed one at a time, so the graph, scanner and
// engine need no locks. The socket hub does its own locking and only
// enqueues from inside the loop.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	hfs "bennypowers.dev/hotserve/fs"
	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/hmr"
	"bennypowers.dev/hotserve/importmap"
	"bennypowers.dev/hotserve/inject"
	"bennypowers.dev/hotserve/packagejson"
	"bennypowers.dev/hotserve/scan"
	"bennypowers.dev/hotserve/socket"
)

// ErrStopped is returned for work submitted after Run has returned.
var ErrStopped = errors.New("devserver: stopped")

// ErrNoImportMap is returned by ImportMap when generation is disabled.
var ErrNoImportMap = errors.New("devserver: import map generation disabled")

// Options configures a Server.
type Options struct {
	// Root is the served directory.
	Root string
	// Entry is the HTML page served at "/", relative to Root.
	Entry string
	FS    hfs.FileSystem
	// Extensions are the module extensions rewritten by the scanner.
	Extensions []string
	// ImportMap enables import map generation for bare specifiers.
	ImportMap bool
	// Conditions overrides the package.json export conditions.
	Conditions []string
	Logger     *log.Logger
}

type task struct {
	fn   func()
	done chan struct{}
}

// Server is the dev server. Create it with New, start the reaction loop
// with Run and serve Handler.
type Server struct {
	root    string
	entry   string
	fs      hfs.FileSystem
	graph   *graph.Store
	scanner *scan.Scanner
	engine  *hmr.Engine
	hub     *socket.Hub
	pkgs    *packagejson.Cache
	maps    *importmap.Generator
	router  chi.Router
	logger  *log.Logger

	tasks   chan task
	stopped chan struct{}
	running atomic.Bool
}

// New wires a Server. Nothing is scanned until Prescan or the first request.
func New(opts Options) (*Server, error) {
	if opts.FS == nil {
		opts.FS = hfs.NewOSFileSystem()
	}
	if opts.Entry == "" {
		opts.Entry = "index.html"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		root:    hfs.Canonical(opts.Root),
		entry:   path.Clean("/" + filepath.ToSlash(opts.Entry)),
		fs:      opts.FS,
		graph:   graph.New(),
		pkgs:    packagejson.NewCache(opts.FS),
		logger:  logger,
		tasks:   make(chan task),
		stopped: make(chan struct{}),
	}
	s.hub = socket.NewHub(logger, s.invalidate)

	scanner, err := scan.New(scan.Options{
		Root:       s.root,
		FS:         s.fs,
		Graph:      s.graph,
		Notifier:   s.hub,
		Logger:     logger,
		Extensions: opts.Extensions,
	})
	if err != nil {
		return nil, fmt.Errorf("devserver: %w", err)
	}
	s.scanner = scanner
	s.engine = hmr.New(s.graph, s.hub, logger)
	if opts.ImportMap {
		s.maps = importmap.NewGenerator(s.root, s.pkgs, logger)
		if len(opts.Conditions) > 0 {
			s.maps = s.maps.WithConditions(opts.Conditions)
		}
	}
	s.router = s.routes()
	return s, nil
}

// Root returns the canonical served directory.
func (s *Server) Root() string {
	return s.root
}

// Run executes submitted work until ctx is done, then disconnects every
// client. It may only be called once.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("devserver: Run called more than once")
	}
	defer close(s.stopped)
	defer s.hub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-s.tasks:
			s.exec(t)
		}
	}
}

func (s *Server) exec(t task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in reaction loop", "panic", r)
		}
	}()
	t.fn()
}

// do runs fn on the reaction loop and waits for it to finish.
func (s *Server) do(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invalidate handles a client invalidate request from a socket goroutine.
func (s *Server) invalidate(url string) {
	if err := s.do(context.Background(), func() { s.engine.InvalidateRequest(url) }); err != nil {
		s.logger.Warn("dropped invalidate", "url", url, "err", err)
	}
}

// Prescan scans every module reachable from the entry page's module
// scripts. It must not be called while Run is running.
func (s *Server) Prescan() error {
	entries, err := s.entryModules(s.entry)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.logger.Warn("entry page loads no modules", "entry", s.entry)
		return nil
	}
	return s.scanner.Prescan(entries...)
}

// entryModules returns the identities of the tracked module scripts loaded
// by the page at webPath.
func (s *Server) entryModules(webPath string) ([]string, error) {
	page := hfs.FromWebPath(s.root, webPath)
	src, err := s.fs.ReadFile(page)
	if err != nil {
		return nil, fmt.Errorf("read entry page: %w", err)
	}
	doc, err := inject.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse entry page %s: %w", webPath, err)
	}

	var entries []string
	for _, ref := range doc.ModuleScripts() {
		identity, ok := s.resolveScript(path.Dir(webPath), ref)
		if !ok || !s.scanner.Tracks(identity) {
			continue
		}
		entries = append(entries, identity)
	}
	return entries, nil
}

// resolveScript maps a script src in a page under dir to a file under the
// root. URLs are not resolved.
func (s *Server) resolveScript(dir, ref string) (string, bool) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case ref == "", strings.HasPrefix(ref, "//"), strings.Contains(ref, "://"):
		return "", false
	case strings.HasPrefix(ref, "/"):
		return hfs.FromWebPath(s.root, ref), true
	default:
		return hfs.FromWebPath(s.root, path.Join(dir, ref)), true
	}
}

// Snapshot returns the module graph. It must not be called while Run is
// running.
func (s *Server) Snapshot() graph.Snapshot {
	return s.graph.Snapshot()
}

// ImportMap generates the import map for the bare specifiers seen so far.
// It must not be called while Run is running.
func (s *Server) ImportMap() (*importmap.ImportMap, error) {
	return s.importMap(s.graph.BareSpecifiers())
}

func (s *Server) importMap(bare []string) (*importmap.ImportMap, error) {
	if s.maps == nil {
		return nil, ErrNoImportMap
	}
	return s.maps.Generate(bare)
}

// Send broadcasts a custom event to every client.
func (s *Server) Send(event string, data any) error {
	return s.hub.Send(event, data)
}
