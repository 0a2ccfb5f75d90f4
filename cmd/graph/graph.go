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

// Package graph provides the graph command for hotserve.
package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/hotserve/config"
	"bennypowers.dev/hotserve/devserver"
	modgraph "bennypowers.dev/hotserve/graph"
	"bennypowers.dev/hotserve/internal/output"
)

// Cmd is the graph command that prints the module graph reachable from the
// entry page.
var Cmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the module graph",
	Long: `Scan every module reachable from the entry page and print the
resulting module graph, the same graph the dev server keeps live.`,
	Example: `  # Print the graph of the current directory as JSON
  hotserve graph

  # One line per import edge
  hotserve graph --root ./site --format text`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: run,
}

func init() {
	Cmd.Flags().StringP("format", "f", "json", "Output format (json, text)")
	Cmd.Flags().String("entry", "index.html", "HTML page whose module scripts are scanned")
	Cmd.Flags().StringSlice("extensions", []string{".js", ".mjs"}, "Module extensions to scan")
}

func run(cmd *cobra.Command, args []string) error {
	format := viper.GetString("format")
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format %q: must be 'json' or 'text'", format)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := output.Logger()
	srv, err := devserver.New(devserver.OptionsFrom(cfg, logger))
	if err != nil {
		return err
	}
	if err := srv.Prescan(); err != nil {
		return err
	}

	snap := srv.Snapshot()
	if format == "json" {
		return output.JSON(snap)
	}
	return output.Text(Text(snap))
}

// Text renders one line per module followed by its import edges.
func Text(snap modgraph.Snapshot) string {
	var b strings.Builder
	for _, m := range snap.Modules {
		name := m.URL
		if name == "" {
			name = m.Identity
		}
		b.WriteString(name)
		if m.Entry {
			b.WriteString(" (entry)")
		}
		if m.SelfAccepting {
			b.WriteString(" (self-accepting)")
		}
		b.WriteByte('\n')
		for _, spec := range slices.Sorted(maps.Keys(m.Imports)) {
			fmt.Fprintf(&b, "  %s -> %s\n", spec, m.Imports[spec])
		}
	}
	for _, spec := range snap.BareSpecifiers {
		fmt.Fprintf(&b, "bare %s\n", spec)
	}
	return b.String()
}
