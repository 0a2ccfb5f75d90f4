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

// Package watch reports file changes under a directory as debounced batches
// of add, change and remove events.
//
// Events within the debounce window are coalesced per path, so an editor
// that writes a temp file and renames it over the original produces a single
// Changed event.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 100 * time.Millisecond

// defaultIgnores are always excluded from watching.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// Op is the kind of change a file went through.
type Op int

const (
	Added Op = iota + 1
	Changed
	Removed
)

func (op Op) String() string {
	switch op {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Event is one file's net change over a debounce window. Path is absolute.
type Event struct {
	Op   Op
	Path string
}

// Config holds the parameters for a Watcher.
type Config struct {
	// BaseDir is the directory watched recursively.
	BaseDir string
	// Patterns are doublestar globs, relative to BaseDir, selecting files
	// to report. Empty reports every non-ignored file.
	Patterns []string
	// Ignore are doublestar globs merged with the built-in ignores.
	Ignore []string
	// Debounce is the quiet period after the last event before OnChange
	// fires. Zero or negative uses DefaultDebounce.
	Debounce time.Duration
	// OnChange receives each batch, sorted by path.
	OnChange func(ctx context.Context, events []Event)
	Logger   *log.Logger
}

// Watcher monitors a directory tree. Run must be called exactly once.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	debounce time.Duration
	baseDir  string
	logger   *log.Logger
	started  atomic.Bool
}

// New creates a Watcher and registers every non-ignored directory under
// BaseDir.
func New(cfg Config) (*Watcher, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("watch: no base directory")
	}
	absBase, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	if err := ValidatePatterns(cfg.Patterns); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(cfg.Ignore); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		baseDir:  absBase,
		logger:   logger.WithPrefix("watch"),
	}

	if err := w.addDirectories(w.baseDir); err != nil {
		return nil, errors.Join(err, fsw.Close())
	}
	return w, nil
}

// Run processes file system events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]Op) // path -> first op seen in the window
		timer   *time.Timer
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		batch := pending
		pending = make(map[string]Op)
		mu.Unlock()

		events := settle(batch, exists)
		if len(events) == 0 || w.cfg.OnChange == nil {
			return
		}
		w.cfg.OnChange(ctx, events)
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "err", err)
		}
	}()

	w.logger.Debug("watching", "dir", w.baseDir)
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			op, ok := w.classify(evt)
			if !ok {
				continue
			}

			mu.Lock()
			if _, seen := pending[evt.Name]; !seen {
				pending[evt.Name] = op
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("event queue overflowed, changes may be missed", "err", err)
				continue
			}
			w.logger.Error("fsnotify error", "err", err)
		}
	}
}

// classify maps a raw event to an Op, filtering out ignored paths,
// directories and chmod-only events.
func (w *Watcher) classify(evt fsnotify.Event) (Op, bool) {
	rel, err := filepath.Rel(w.baseDir, evt.Name)
	if err != nil || w.isIgnored(rel) {
		return 0, false
	}

	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addDirectories(evt.Name); err != nil {
				w.logger.Warn("add new directory", "dir", evt.Name, "err", err)
			}
			return 0, false
		}
	}
	if !w.matches(rel) {
		return 0, false
	}

	switch {
	case evt.Has(fsnotify.Create):
		return Added, true
	case evt.Has(fsnotify.Write):
		return Changed, true
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		return Removed, true
	default:
		return 0, false
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// settle turns the first op seen for each path into the net change, judged
// by whether the file exists once the window closes. A file created and
// removed within one window is dropped.
func settle(batch map[string]Op, exists func(string) bool) []Event {
	events := make([]Event, 0, len(batch))
	for path, first := range batch {
		present := exists(path)
		var op Op
		switch {
		case !present && first == Added:
			continue
		case !present:
			op = Removed
		case first == Added:
			op = Added
		default:
			op = Changed
		}
		events = append(events, Event{Op: op, Path: path})
	}
	slices.SortFunc(events, func(a, b Event) int {
		return strings.Compare(a.Path, b.Path)
	})
	return events
}

// addDirectories registers root and every non-ignored directory beneath it.
func (w *Watcher) addDirectories(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.baseDir, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk directory tree: %w", walkErr)
	}
	return nil
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range patterns {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

// ValidatePatterns checks that every pattern is a valid doublestar glob.
func ValidatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}
