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
	"bytes"
	"errors"
	iofs "io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bennypowers.dev/hotserve/client"
	hfs "bennypowers.dev/hotserve/fs"
	"bennypowers.dev/hotserve/importmap"
	"bennypowers.dev/hotserve/inject"
	"bennypowers.dev/hotserve/scan"
)

// SocketPath is where clients open the update channel.
const SocketPath = "/@hmr"

// Handler returns the HTTP handler serving the tree.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(SocketPath, s.hub.ServeHTTP)
	r.Get(scan.ClientPath, client.ServeScript)
	r.Get("/*", s.serve)
	r.Head("/*", s.serve)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
		)
	})
}

// serve dispatches by path: pages get the client injected, tracked modules
// are rewritten, everything else is served as is.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	webPath := path.Clean("/" + r.URL.Path)
	if webPath == "/" {
		webPath = s.entry
	}
	identity := hfs.FromWebPath(s.root, webPath)

	if info, err := s.fs.Stat(identity); err == nil && info.IsDir() {
		webPath = path.Join(webPath, "index.html")
		identity = hfs.FromWebPath(s.root, webPath)
	}

	switch {
	case strings.HasSuffix(webPath, ".html"):
		s.servePage(w, r, webPath, identity)
	case s.scanner.Tracks(identity) && !strings.HasPrefix(webPath, importmap.NodeModulesURL+"/"):
		s.serveModule(w, r, identity)
	default:
		s.serveStatic(w, r, identity)
	}
}

func (s *Server) serveModule(w http.ResponseWriter, r *http.Request, identity string) {
	var (
		out string
		err error
	)
	if doErr := s.do(r.Context(), func() {
		out, err = s.scanner.Transform(identity, r.URL.RequestURI())
	}); doErr != nil {
		http.Error(w, doErr.Error(), http.StatusServiceUnavailable)
		return
	}

	switch {
	case errors.Is(err, scan.ErrUnreadable):
		http.NotFound(w, r)
		return
	case err != nil:
		s.logger.Error("transform failed", "path", r.URL.Path, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(out))
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, webPath, identity string) {
	src, err := s.fs.ReadFile(identity)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var generated *importmap.ImportMap
	if s.maps != nil {
		var bare []string
		if err := s.do(r.Context(), func() { bare = s.graph.BareSpecifiers() }); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if generated, err = s.importMap(bare); err != nil {
			s.logger.Warn("import map not generated", "err", err)
		}
	}

	out, err := inject.Inject(src, scan.ClientPath, generated)
	if err != nil {
		s.logger.Error("inject failed", "page", webPath, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(out)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, identity string) {
	info, err := s.fs.Stat(identity)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			s.logger.Warn("stat failed", "path", identity, "err", err)
		}
		http.NotFound(w, r)
		return
	}
	data, err := s.fs.ReadFile(identity)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
}
