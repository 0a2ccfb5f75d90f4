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

// Package fs provides filesystem abstractions for hotserve.
package fs

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem provides an abstraction over the filesystem operations the
// dev server needs. Paths are absolute, OS-style paths.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
	Exists(path string) bool

	// fs.FS compatibility - allows serving files with http.FS
	Open(name string) (fs.File, error)
}

// OSFileSystem implements FileSystem using the standard os package.
type OSFileSystem struct{}

// NewOSFileSystem creates a new filesystem that uses the standard os package.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (f *OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (f *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (f *OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (f *OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// Canonical returns the canonical identity of a path: absolute and cleaned.
// Relative paths are resolved against the working directory.
func Canonical(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return filepath.Clean(name)
	}
	return abs
}

// WebPath converts a filesystem path under rootDir into a web path.
// e.g., "/srv/app/src/main.js" with root "/srv/app" -> "/src/main.js".
// Returns an empty string for paths outside rootDir.
func WebPath(rootDir, fullPath string) string {
	relPath, err := filepath.Rel(rootDir, fullPath)
	if err != nil {
		return ""
	}
	if relPath == "." {
		return "/"
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/" + filepath.ToSlash(relPath)
}

// FromWebPath maps a web path back onto the filesystem under rootDir.
// The query string and fragment are ignored. Paths that would escape
// rootDir resolve to rootDir itself.
func FromWebPath(rootDir, webPath string) string {
	if i := strings.IndexAny(webPath, "?#"); i >= 0 {
		webPath = webPath[:i]
	}
	return filepath.Join(rootDir, filepath.FromSlash(path.Clean("/"+webPath)))
}
