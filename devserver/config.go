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
	"github.com/charmbracelet/log"

	"bennypowers.dev/hotserve/config"
	hfs "bennypowers.dev/hotserve/fs"
)

// OptionsFrom maps a loaded configuration onto server options backed by the
// OS file system.
func OptionsFrom(cfg *config.Config, logger *log.Logger) Options {
	return Options{
		Root:       cfg.Root,
		Entry:      cfg.Entry,
		FS:         hfs.NewOSFileSystem(),
		Extensions: cfg.Extensions,
		ImportMap:  cfg.ImportMap,
		Conditions: cfg.Conditions,
		Logger:     logger,
	}
}
