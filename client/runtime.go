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

// Package client is the receiving end of the hot update channel.
//
// Runtime implements the page-side protocol in Go: modules register accept
// and prune callbacks through a HotContext, and the runtime re-imports
// updated modules and calls those callbacks as messages arrive. The same
// behavior ships to browsers as the embedded hmr.js script.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/protocol"
)

const (
	// DefaultHeartbeat is how often Run sends a keep-alive.
	DefaultHeartbeat = 30 * time.Second
	// DefaultReloadDelay is how long a full reload waits before firing.
	DefaultReloadDelay = 50 * time.Millisecond
)

// Module is whatever an Importer produces for a module URL.
type Module any

// Importer fetches and evaluates a module.
type Importer interface {
	Import(ctx context.Context, url string) (Module, error)
}

// Sender delivers client messages to the server.
type Sender interface {
	Send(msg protocol.Message) error
}

// Reloader reloads the whole page.
type Reloader interface {
	Reload()
}

// Conn is the subset of *websocket.Conn the runtime reads and writes.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// AcceptFunc receives the re-imported modules, one slot per declared
// dependency. Slots for dependencies that did not change are nil.
type AcceptFunc func(mods []Module)

// Options configures a Runtime.
type Options struct {
	Importer Importer
	Reloader Reloader
	// Sender is used by HotContext.Invalidate. When nil, Run sends over
	// its connection.
	Sender Sender
	Logger *log.Logger

	Heartbeat time.Duration
	// ReloadDelay defaults to DefaultReloadDelay; negative reloads at once.
	ReloadDelay time.Duration
}

type registration struct {
	deps     []string
	callback AcceptFunc
}

// Runtime tracks hot contexts and applies server messages. It is safe for
// concurrent use.
type Runtime struct {
	importer    Importer
	reloader    Reloader
	logger      *log.Logger
	heartbeat   time.Duration
	reloadDelay time.Duration

	mu        sync.Mutex
	sender    Sender
	modules   map[string]*registration
	pruners   map[string]func()
	listeners map[string][]func(json.RawMessage)
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	reloadDelay := opts.ReloadDelay
	if reloadDelay < 0 {
		reloadDelay = 0
	} else if reloadDelay == 0 {
		reloadDelay = DefaultReloadDelay
	}
	return &Runtime{
		importer:    opts.Importer,
		reloader:    opts.Reloader,
		sender:      opts.Sender,
		logger:      logger.WithPrefix("client"),
		heartbeat:   heartbeat,
		reloadDelay: reloadDelay,
		modules:     make(map[string]*registration),
		pruners:     make(map[string]func()),
		listeners:   make(map[string][]func(json.RawMessage)),
	}
}

// HotContext is the hot API of one module instance.
type HotContext struct {
	rt        *Runtime
	ownerPath string
}

// Context returns the hot context for the module at ownerPath. A module
// re-evaluated after an update calls this again, which drops the callback
// registered by its previous instance.
func (r *Runtime) Context(ownerPath string) *HotContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.modules[ownerPath]; ok {
		reg.callback = nil
	}
	return &HotContext{rt: r, ownerPath: ownerPath}
}

// OwnerPath returns the URL of the module owning the context.
func (h *HotContext) OwnerPath() string {
	return h.ownerPath
}

// Accept registers cb for updates to deps. Empty deps accept updates to the
// module itself.
func (h *HotContext) Accept(deps []string, cb AcceptFunc) {
	if len(deps) == 0 {
		deps = []string{h.ownerPath}
	}
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	reg, ok := h.rt.modules[h.ownerPath]
	if !ok {
		reg = &registration{}
		h.rt.modules[h.ownerPath] = reg
	}
	reg.deps = deps
	reg.callback = cb
}

// Prune registers cb to run when the module is no longer imported.
func (h *HotContext) Prune(cb func()) {
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	h.rt.pruners[h.ownerPath] = cb
}

// On registers cb for a custom event.
func (h *HotContext) On(event string, cb func(data json.RawMessage)) {
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	h.rt.listeners[event] = append(h.rt.listeners[event], cb)
}

// Invalidate asks the server to propagate the module's last update to its
// importers instead.
func (h *HotContext) Invalidate() error {
	h.rt.mu.Lock()
	sender := h.rt.sender
	h.rt.mu.Unlock()
	if sender == nil {
		return errors.New("not connected")
	}
	return sender.Send(protocol.NewInvalidateMessage(h.ownerPath))
}

// Handle applies one server message.
func (r *Runtime) Handle(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeConnected:
		r.logger.Info("connected")
	case protocol.TypeUpdate:
		var errs []error
		for _, u := range msg.Updates {
			if err := r.fetchUpdate(ctx, u); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case protocol.TypePrune:
		r.prune(msg.Paths)
	case protocol.TypeFullReload:
		r.logger.Info("full reload")
		if r.reloader != nil {
			time.AfterFunc(r.reloadDelay, r.reloader.Reload)
		}
	case protocol.TypeCustom:
		r.mu.Lock()
		listeners := append([]func(json.RawMessage){}, r.listeners[msg.Event]...)
		r.mu.Unlock()
		for _, cb := range listeners {
			cb(msg.Data)
		}
	default:
		r.logger.Debug("ignoring message", "type", msg.Type)
	}
	return nil
}

func (r *Runtime) fetchUpdate(ctx context.Context, u protocol.Update) error {
	url := u.AcceptedPath
	if u.Timestamp != 0 {
		url += "?t=" + strconv.FormatInt(u.Timestamp, 10)
	}
	if r.importer == nil {
		return errors.New("no importer configured")
	}
	mod, err := r.importer.Import(ctx, url)
	if err != nil {
		return fmt.Errorf("hot update of %s failed: %w", u.AcceptedPath, err)
	}

	r.mu.Lock()
	reg, ok := r.modules[u.Path]
	var (
		deps     []string
		callback AcceptFunc
	)
	if ok {
		deps = reg.deps
		callback = reg.callback
	}
	r.mu.Unlock()

	if callback == nil {
		r.logger.Debug("no accept callback", "boundary", u.Path)
		return nil
	}

	mods := make([]Module, len(deps))
	for i, dep := range deps {
		if cleanURL(dep) == cleanURL(u.AcceptedPath) {
			mods[i] = mod
		}
	}
	callback(mods)
	r.logger.Info("hot updated", "boundary", u.Path, "via", u.AcceptedPath)
	return nil
}

func (r *Runtime) prune(paths []string) {
	for _, p := range paths {
		r.mu.Lock()
		cb, ok := r.pruners[p]
		delete(r.pruners, p)
		r.mu.Unlock()
		if ok && cb != nil {
			cb()
		}
	}
}

// Run reads messages from conn until it closes or ctx is done, sending a
// heartbeat every interval. There is no reconnect.
func (r *Runtime) Run(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs := &connSender{conn: conn}
	r.mu.Lock()
	if r.sender == nil {
		r.sender = cs
	}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go r.beat(ctx, cs)

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading update channel: %w", err)
		}
		if err := r.Handle(ctx, msg); err != nil {
			r.logger.Error("update failed", "err", err)
		}
	}
}

func (r *Runtime) beat(ctx context.Context, s Sender) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Send(protocol.NewHeartbeatMessage()); err != nil {
				r.logger.Debug("heartbeat stopped", "err", err)
				return
			}
		}
	}
}

// connSender serializes writes; a websocket connection allows only one
// concurrent writer.
type connSender struct {
	mu   sync.Mutex
	conn Conn
}

func (s *connSender) Send(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func cleanURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
