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

// Package serve provides the serve command for hotserve.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"bennypowers.dev/hotserve/config"
	"bennypowers.dev/hotserve/devserver"
	"bennypowers.dev/hotserve/internal/output"
	"bennypowers.dev/hotserve/watch"
)

const shutdownTimeout = 5 * time.Second

// Cmd is the serve command that runs the dev server.
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory with hot module replacement",
	Long: `Serve a directory of native ES modules to the browser.

Modules are rewritten so that edits reach open pages as hot updates, and
pages get the hot client and a generated import map injected.`,
	Example: `  # Serve the current directory on localhost:3000
  hotserve serve

  # Serve another directory on all interfaces
  hotserve serve --root ./site --host 0.0.0.0 --port 8080

  # Only react to source files, with a longer quiet period
  hotserve serve --watch "src/**" --debounce 300ms`,
	Args: cobra.NoArgs,
	// Commands share viper keys; bind only the running command's flags.
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: run,
}

func init() {
	Cmd.Flags().String("host", "localhost", "Interface to listen on")
	Cmd.Flags().IntP("port", "p", 3000, "Port to listen on (0 picks a free port)")
	Cmd.Flags().String("entry", "index.html", "HTML page served at /, relative to the root")
	Cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a batch of file changes is applied")
	Cmd.Flags().StringSlice("extensions", []string{".js", ".mjs"}, "Module extensions to rewrite")
	Cmd.Flags().StringSlice("watch", nil, "Globs, relative to the root, selecting watched files")
	Cmd.Flags().StringSlice("ignore", nil, "Globs, relative to the root, excluded from watching")
	Cmd.Flags().Bool("import-map", true, "Generate an import map for bare specifiers")
	Cmd.Flags().StringSlice("conditions", nil, "Export condition priority (e.g., development,browser,import,default)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := output.NewLogger(os.Stderr, cfg.LogLevel)

	srv, err := devserver.New(devserver.OptionsFrom(cfg, logger))
	if err != nil {
		return err
	}
	if err := srv.Prescan(); err != nil {
		logger.Warn("prescan incomplete, modules will be scanned on request", "err", err)
	}

	w, err := watch.New(watch.Config{
		BaseDir:  cfg.Root,
		Patterns: cfg.Watch,
		Ignore:   cfg.Ignore,
		Debounce: cfg.Debounce,
		OnChange: srv.HandleEvents,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		logger.Info("serving", "url", "http://"+ln.Addr().String(), "root", cfg.Root)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}
