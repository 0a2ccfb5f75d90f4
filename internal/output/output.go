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

// Package output provides shared output utilities for hotserve CLI commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Logger returns the CLI logger, writing to stderr at the level held by
// viper's "log-level" key.
func Logger() *log.Logger {
	return NewLogger(os.Stderr, viper.GetString("log-level"))
}

// NewLogger returns a logger writing to w. An unknown level falls back to
// info.
func NewLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "hotserve",
		ReportTimestamp: true,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// JSON writes v as indented JSON to stdout or a file.
// If viper's "output" flag is set, writes to that file; otherwise prints to stdout.
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return Text(string(data))
}

// Text writes s, newline terminated, to stdout or to viper's "output" file.
func Text(s string) error {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	if outputPath := viper.GetString("output"); outputPath != "" {
		return os.WriteFile(outputPath, []byte(s), 0644)
	}
	_, err := fmt.Print(s)
	return err
}
