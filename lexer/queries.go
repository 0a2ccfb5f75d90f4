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

package lexer

import (
	"embed"
	"fmt"
	"path"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*.scm
var queryFiles embed.FS

// typescript is the grammar used for all served modules. It is a superset
// of the JavaScript syntax browsers accept.
var typescript = ts.NewLanguage(tsTypescript.LanguageTypescript())

var parserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(typescript); err != nil {
			panic("failed to set TypeScript language: " + err.Error())
		}
		return parser
	},
}

// getParser retrieves a parser from the pool.
func getParser() *ts.Parser {
	return parserPool.Get().(*ts.Parser)
}

// putParser returns a parser to the pool.
func putParser(p *ts.Parser) {
	p.Reset()
	parserPool.Put(p)
}

// Global compiled queries. Queries are immutable once built and can be
// shared by cursors on any goroutine.
var (
	queries     map[string]*ts.Query
	queriesOnce sync.Once
	queriesErr  error
)

func loadQueries() (map[string]*ts.Query, error) {
	queriesOnce.Do(func() {
		loaded := make(map[string]*ts.Query)
		for _, name := range []string{"imports"} {
			queryPath := path.Join("queries", name+".scm")
			data, err := queryFiles.ReadFile(queryPath)
			if err != nil {
				queriesErr = fmt.Errorf("failed to read query %s: %w", queryPath, err)
				return
			}
			query, qerr := ts.NewQuery(typescript, string(data))
			if qerr != nil {
				queriesErr = fmt.Errorf("failed to parse query %s: %w", name, qerr)
				return
			}
			loaded[name] = query
		}
		queries = loaded
	})
	return queries, queriesErr
}

func query(name string) (*ts.Query, error) {
	qs, err := loadQueries()
	if err != nil {
		return nil, err
	}
	q, ok := qs[name]
	if !ok {
		return nil, fmt.Errorf("query not found: %s", name)
	}
	return q, nil
}
