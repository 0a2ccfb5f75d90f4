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

// Package scan turns source modules into the text served to the browser.
//
// Scanning a module rewrites its import specifiers into root-absolute URLs
// carrying a cache-busting timestamp, records its imports and hot-accepted
// dependencies in the module graph, and prepends the prologue that gives the
// module its hot context.
package scan

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	hfs "bennypowers.dev/hotserve/fs"
	"bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/lexer"
	"bennypowers.dev/hotserve/patch"
)

var (
	// ErrUnreadable is returned when a module's source cannot be read.
	ErrUnreadable = errors.New("module unreadable")
	// ErrUnparsable is returned when a module's source cannot be analysed.
	ErrUnparsable = errors.New("module unparsable")
)

// ClientPath is the URL of the browser runtime the prologue imports.
const ClientPath = "/@hmr/client.js"

// DefaultExtensions are the file extensions scanned when none are configured.
var DefaultExtensions = []string{".js", ".mjs"}

const defaultCacheSize = 512

// Notifier receives the URLs of modules that lost their last importer.
type Notifier interface {
	Prune(urls []string)
}

// Options configures a Scanner.
type Options struct {
	// Root is the served directory. Web paths are relative to it.
	Root string
	FS   hfs.FileSystem
	// Graph is the store updated by every scan.
	Graph *graph.Store
	// Notifier is told about orphaned modules. May be nil.
	Notifier Notifier
	Logger   *log.Logger
	// Extensions lists the tracked file extensions, dot included.
	Extensions []string
	// CacheSize bounds the number of lexed sources kept in memory.
	CacheSize int
}

// Scanner rewrites source modules and keeps the graph current. It is not
// safe for concurrent use.
type Scanner struct {
	root       string
	fs         hfs.FileSystem
	graph      *graph.Store
	lexer      *lexer.Lexer
	notifier   Notifier
	logger     *log.Logger
	extensions []string
}

// New creates a Scanner.
func New(opts Options) (*Scanner, error) {
	if opts.FS == nil || opts.Graph == nil {
		return nil, errors.New("scanner needs a file system and a graph")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	lx, err := lexer.New(size)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Scanner{
		root:       hfs.Canonical(opts.Root),
		fs:         opts.FS,
		graph:      opts.Graph,
		lexer:      lx,
		notifier:   opts.Notifier,
		logger:     logger.WithPrefix("scan"),
		extensions: extensions,
	}, nil
}

// Root returns the canonical served directory.
func (s *Scanner) Root() string {
	return s.root
}

// Tracks reports whether files at identity are scanned rather than served
// as static assets.
func (s *Scanner) Tracks(identity string) bool {
	return slices.Contains(s.extensions, filepath.Ext(identity))
}

// Transform returns the served text of the module at identity for a request
// to requestURL. Cached text is reused when the request's t parameter
// matches the module's current or last requested timestamp.
func (s *Scanner) Transform(identity, requestURL string) (string, error) {
	reqPath, t := splitRequest(requestURL)
	// A missing file nothing imports must not become a node.
	if s.graph.Lookup(identity) == nil {
		if _, err := s.fs.Stat(identity); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnreadable, identity, err)
		}
	}
	n := s.graph.GetOrCreate(identity)
	if reqPath != "" {
		s.graph.SetURL(n, reqPath)
	}

	if n.Content != "" && (t == n.LastModifyTimestamp || t == n.ModifyTimestamp) {
		s.logger.Debug("cache hit", "url", n.URL, "t", t)
		return n.Content, nil
	}

	out, err := s.Scan(identity)
	if err != nil {
		return "", err
	}
	n.LastModifyTimestamp = t
	return out, nil
}

// rewrite is a pending replacement of a specifier or accept literal.
type rewrite struct {
	start, end int
	identity   string
	timestamp  bool
}

// Scan reads, analyses and rewrites the module at identity, replacing its
// edges and accepted dependencies in the graph. On error the graph and the
// cached content are left as they were.
func (s *Scanner) Scan(identity string) (string, error) {
	n := s.graph.GetOrCreate(identity)
	if n.URL == "" {
		s.graph.SetURL(n, hfs.WebPath(s.root, identity))
	}

	src, err := s.fs.ReadFile(identity)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnreadable, identity, err)
	}

	occs, err := s.lexer.Lex(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnparsable, identity, err)
	}

	dir := filepath.Dir(identity)
	var (
		edges    []graph.Edge
		rewrites []rewrite
		bare     []string
		accepted []string
		self     bool
	)

	for _, occ := range occs {
		switch {
		case occ.Kind.IsImport():
			target, ok := s.resolve(dir, occ.Specifier)
			if !ok {
				bare = append(bare, occ.Specifier)
				continue
			}
			edges = append(edges, graph.Edge{Specifier: occ.Specifier, Identity: target})
			rewrites = append(rewrites, rewrite{
				start:     occ.Start,
				end:       occ.End,
				identity:  target,
				timestamp: true,
			})

		case occ.Kind == lexer.HotAccept:
			if occ.Err != nil {
				return "", fmt.Errorf("%w: %s:%d: %w", ErrUnparsable, identity, occ.Line, occ.Err)
			}
			if occ.SelfAccept {
				self = true
				continue
			}
			for _, dep := range occ.Deps {
				target, ok := s.resolve(dir, dep.Value)
				if !ok {
					s.logger.Warn("cannot accept a bare specifier", "module", identity, "line", occ.Line, "dep", dep.Value)
					continue
				}
				accepted = append(accepted, target)
				rewrites = append(rewrites, rewrite{start: dep.Start, end: dep.End, identity: target})
			}
		}
	}

	p := patch.New(src)
	p.Prepend(prologue(n.URL))
	for _, rw := range rewrites {
		text := hfs.WebPath(s.root, rw.identity)
		if rw.timestamp {
			if target := s.graph.Lookup(rw.identity); target != nil && target.ModifyTimestamp != 0 {
				text += "?t=" + strconv.FormatInt(target.ModifyTimestamp, 10)
			}
		}
		if err := p.Overwrite(rw.start, rw.end, text); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnparsable, identity, err)
		}
	}
	out := p.String()

	// Everything below mutates the graph; nothing past this point fails.
	for _, spec := range bare {
		s.graph.AddBareSpecifier(spec)
	}
	if orphans := s.graph.ReconcileEdges(n, edges); len(orphans) > 0 {
		s.logger.Debug("pruning", "module", n.URL, "orphans", orphans)
		if s.notifier != nil {
			s.notifier.Prune(orphans)
		}
	}
	ids := make([]graph.NodeID, 0, len(accepted))
	for _, dep := range accepted {
		ids = append(ids, s.graph.GetOrCreate(dep).ID)
	}
	s.graph.SetAccepted(n, ids, self)
	n.Content = out

	s.logger.Debug("scanned", "module", n.URL, "imports", len(edges), "accepts", len(ids), "self", self)
	return out, nil
}

// Prescan scans every module reachable from entries, marking entries in the
// graph. Entries must be readable and parse; other modules that fail are
// logged and skipped.
func (s *Scanner) Prescan(entries ...string) error {
	queue := make([]string, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if _, err := s.Scan(entry); err != nil {
			return err
		}
		s.graph.MarkEntry(s.graph.GetOrCreate(entry))
		seen[entry] = struct{}{}
		queue = append(queue, entry)
	}

	for len(queue) > 0 {
		identity := queue[0]
		queue = queue[1:]
		n := s.graph.Lookup(identity)
		for _, imp := range n.Imports() {
			target := s.graph.Node(imp.Target)
			if _, ok := seen[target.Identity]; ok {
				continue
			}
			seen[target.Identity] = struct{}{}
			if !s.Tracks(target.Identity) {
				continue
			}
			if _, err := s.Scan(target.Identity); err != nil {
				s.logger.Warn("skipping module", "importer", n.URL, "specifier", imp.Specifier, "err", err)
				continue
			}
			queue = append(queue, target.Identity)
		}
	}

	s.logger.Info("prescan complete", "modules", s.graph.Len(), "entries", len(entries))
	return nil
}

// resolve maps a specifier written in a module in dir to a canonical path.
// It reports false for bare specifiers, URLs and paths outside the root.
func (s *Scanner) resolve(dir, spec string) (string, bool) {
	clean := stripQuery(spec)
	var resolved string
	switch {
	case clean == "." || clean == ".." ||
		strings.HasPrefix(clean, "./") || strings.HasPrefix(clean, "../"):
		resolved = filepath.Join(dir, filepath.FromSlash(clean))
	case strings.HasPrefix(clean, "//"):
		return "", false
	case strings.HasPrefix(clean, "/"):
		resolved = hfs.FromWebPath(s.root, clean)
	default:
		// Bare specifiers and URLs with a scheme.
		return "", false
	}
	if hfs.WebPath(s.root, resolved) == "" {
		s.logger.Warn("import outside root", "specifier", spec, "dir", dir)
		return "", false
	}
	return resolved, true
}

func prologue(url string) string {
	return fmt.Sprintf("import { createHotContext as __hot } from %q;\nimport.meta.hot = __hot(%q);\n",
		ClientPath, url)
}

func stripQuery(spec string) string {
	if i := strings.IndexAny(spec, "?#"); i >= 0 {
		return spec[:i]
	}
	return spec
}

// splitRequest returns the cleaned path of a request URL and its t
// parameter, zero when absent or malformed.
func splitRequest(requestURL string) (string, int64) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", 0
	}
	var reqPath string
	if u.Path != "" {
		reqPath = path.Clean("/" + u.Path)
	}
	t, err := strconv.ParseInt(u.Query().Get("t"), 10, 64)
	if err != nil {
		t = 0
	}
	return reqPath, t
}
