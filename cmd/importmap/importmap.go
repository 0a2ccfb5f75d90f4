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

// Package importmap provides the importmap command for hotserve.
package importmap

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/hotserve/config"
	"bennypowers.dev/hotserve/devserver"
	"bennypowers.dev/hotserve/importmap"
	"bennypowers.dev/hotserve/internal/output"
)

// Cmd is the importmap command that prints the import map the dev server
// would inject into the entry page.
var Cmd = &cobra.Command{
	Use:   "importmap",
	Short: "Print the generated import map",
	Long: `Print the import map generated for the root package and every bare
specifier reachable from the entry page.`,
	Example: `  # Print the import map as JSON
  hotserve importmap

  # Output as an HTML script tag
  hotserve importmap --format html

  # Prefer development builds
  hotserve importmap --conditions development,browser,import,default`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: run,
}

func init() {
	Cmd.Flags().StringP("format", "f", "json", "Output format (json, html)")
	Cmd.Flags().String("entry", "index.html", "HTML page whose module scripts are scanned")
	Cmd.Flags().StringSlice("conditions", nil, "Export condition priority (e.g., development,browser,import,default)")
}

func run(cmd *cobra.Command, args []string) error {
	format := viper.GetString("format")
	if format != "json" && format != "html" {
		return fmt.Errorf("invalid format %q: must be 'json' or 'html'", format)
	}

	// The map is wanted even when a config file disables injection.
	viper.Set("import-map", true)
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
		logger.Warn("prescan incomplete, some bare specifiers may be missing", "err", err)
	}

	im, err := srv.ImportMap()
	if err != nil {
		return err
	}
	return output.Text(Format(im, format))
}

// Format renders im as JSON or wrapped in an importmap script tag.
func Format(im *importmap.ImportMap, format string) string {
	body := im.ToJSON()
	if body == "" {
		body = "{}"
	}
	if format == "html" {
		return "<script type=\"importmap\">\n" + body + "\n</script>"
	}
	return body
}
