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

// Package tail provides the tail command for hotserve.
package tail

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"bennypowers.dev/hotserve/client"
	"bennypowers.dev/hotserve/devserver"
	"bennypowers.dev/hotserve/internal/output"
	"bennypowers.dev/hotserve/protocol"
)

// Cmd is the tail command that follows a running dev server's update
// channel the way a browser page would.
var Cmd = &cobra.Command{
	Use:   "tail [url]",
	Short: "Follow the update channel of a running server",
	Long: `Connect to a running dev server as a client and log every message it
sends. Hot updates are fetched like a page would fetch them, so a module
that fails to transform shows up as an error.`,
	Example: `  # Follow the default local server
  hotserve tail

  # Follow a server on another port
  hotserve tail http://localhost:8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	base := "http://localhost:3000"
	if len(args) == 1 {
		base = args[0]
	}
	socketURL, err := SocketURL(base)
	if err != nil {
		return err
	}
	logger := output.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socketURL, err)
	}
	logger.Info("following", "url", socketURL)

	rt := client.New(client.Options{
		Importer: &client.HTTPImporter{BaseURL: base},
		Reloader: reloader{logger},
		Logger:   logger,
	})
	return rt.Run(ctx, &loggingConn{Conn: conn, logger: logger})
}

// SocketURL maps a server's http(s) base URL to its update channel.
func SocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme %s", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: no host", base)
	}
	u.Path = devserver.SocketPath
	u.RawQuery = ""
	return u.String(), nil
}

type reloader struct {
	logger *log.Logger
}

func (r reloader) Reload() {
	r.logger.Info("page would reload")
}

// loggingConn logs every message read from the server.
type loggingConn struct {
	*websocket.Conn
	logger *log.Logger
}

func (c *loggingConn) ReadJSON(v any) error {
	if err := c.Conn.ReadJSON(v); err != nil {
		return err
	}
	if msg, ok := v.(*protocol.Message); ok {
		c.logger.Info("message", describe(*msg)...)
	}
	return nil
}

func describe(msg protocol.Message) []any {
	kv := []any{"type", msg.Type}
	switch msg.Type {
	case protocol.TypeUpdate:
		for _, u := range msg.Updates {
			kv = append(kv, "update", u.Path+" <- "+u.AcceptedPath)
		}
	case protocol.TypePrune:
		kv = append(kv, "paths", msg.Paths)
	case protocol.TypeCustom:
		kv = append(kv, "event", msg.Event, "data", string(msg.Data))
	}
	return kv
}

var _ client.Conn = (*loggingConn)(nil)

