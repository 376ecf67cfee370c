// Package migrations holds the embedded schema for both stores and applies
// the files not yet recorded in each store's schema_migrations table.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// Migration is one schema file. Version is the file name without extension.
type Migration struct {
	Version string
	SQL     string
}

// Load reads every .sql file under dir, ordered by name. Empty files are
// skipped.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(path.Base(name), ".sql"),
			SQL:     string(data),
		})
	}
	return out, nil
}

var errQuotedSemicolon = errors.New("semicolon inside a string literal")

// Statements splits a migration into single statements for drivers without
// multi-statement support. Lines starting with -- are dropped. A semicolon
// inside a quoted literal is rejected rather than split.
func Statements(sql string) ([]string, error) {
	var (
		stmts   []string
		current strings.Builder
	)
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}

	body := current.String()
	current.Reset()
	quoted := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\'' && quoted && i+1 < len(body) && body[i+1] == '\'':
			current.WriteString("''")
			i++
			continue
		case c == '\'':
			quoted = !quoted
		case c == ';' && quoted:
			return nil, errQuotedSemicolon
		case c == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func pending(all []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}
