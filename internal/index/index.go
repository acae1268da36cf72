package index

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tadfisher/idea-lsp/internal/host"
)

//go:embed schema.sql
var schemaSQL string

type Declaration struct {
	Path      string
	Name      string
	Kind      host.DeclKind
	Start     int
	End       int
	Container string
}

type Occurrence struct {
	Path   string
	Name   string
	Start  int
	End    int
	InText bool
}

// File is everything indexed for one source file.
type File struct {
	Path         string
	Package      string
	Declarations []Declaration
	Occurrences  []Occurrence
}

// Index is a SQLite store of declarations and identifier occurrences.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at dbPath. An empty path keeps
// the index in memory.
func Open(dbPath string) (*Index, error) {
	dsn := dbPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Index{db: db}, nil
}

// withTx is a helper function to execute a function within a transaction.
func (ix *Index) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Replace stores f, dropping whatever was indexed for the same path.
func (ix *Index) Replace(f File) error {
	return ix.withTx(func(tx *sql.Tx) error {
		if err := removeFile(tx, f.Path); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO files (path, package, indexed_at) VALUES (?, ?, ?)`,
			f.Path, f.Package, time.Now().Unix(),
		); err != nil {
			return err
		}

		declStmt, err := tx.Prepare(`
            INSERT INTO declarations (path, name, kind, name_start, name_end, container)
            VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer declStmt.Close()
		for _, d := range f.Declarations {
			if _, err := declStmt.Exec(f.Path, d.Name, int(d.Kind), d.Start, d.End, d.Container); err != nil {
				return err
			}
		}

		occStmt, err := tx.Prepare(`
            INSERT INTO occurrences (path, name, start_offset, end_offset, in_text)
            VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer occStmt.Close()
		for _, o := range f.Occurrences {
			if _, err := occStmt.Exec(f.Path, o.Name, o.Start, o.End, o.InText); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove drops a file from the index.
func (ix *Index) Remove(path string) error {
	return ix.withTx(func(tx *sql.Tx) error {
		return removeFile(tx, path)
	})
}

// RemoveTree drops every file at or below dir.
func (ix *Index) RemoveTree(dir string) error {
	dir = filepath.Clean(dir)
	return ix.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT path FROM files WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			dir, escapeLike(dir)+escapeLike(string(filepath.Separator))+"%")
		if err != nil {
			return err
		}
		paths, err := scanStrings(rows)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := removeFile(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func removeFile(tx *sql.Tx, path string) error {
	for _, q := range []string{
		`DELETE FROM occurrences WHERE path = ?`,
		`DELETE FROM declarations WHERE path = ?`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := tx.Exec(q, path); err != nil {
			return err
		}
	}
	return nil
}

// Files lists every indexed path.
func (ix *Index) Files() ([]string, error) {
	rows, err := ix.db.Query(`SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// Declarations returns the declarations called name, optionally restricted
// to kinds.
func (ix *Index) Declarations(name string, kinds ...host.DeclKind) ([]Declaration, error) {
	query := `SELECT path, name, kind, name_start, name_end, container FROM declarations WHERE name = ?`
	args := []any{name}
	query, args = withKinds(query, args, kinds)
	return ix.queryDeclarations(query+` ORDER BY path, name_start`, args...)
}

// AllDeclarations returns every declaration of the given kinds.
func (ix *Index) AllDeclarations(kinds ...host.DeclKind) ([]Declaration, error) {
	query := `SELECT path, name, kind, name_start, name_end, container FROM declarations WHERE 1 = 1`
	query, args := withKinds(query, nil, kinds)
	return ix.queryDeclarations(query+` ORDER BY path, name_start`, args...)
}

func withKinds(query string, args []any, kinds []host.DeclKind) (string, []any) {
	if len(kinds) == 0 {
		return query, args
	}
	marks := make([]string, len(kinds))
	for i, k := range kinds {
		marks[i] = "?"
		args = append(args, int(k))
	}
	return query + ` AND kind IN (` + strings.Join(marks, ", ") + `)`, args
}

func (ix *Index) queryDeclarations(query string, args ...any) ([]Declaration, error) {
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decls []Declaration
	for rows.Next() {
		var d Declaration
		var kind int
		if err := rows.Scan(&d.Path, &d.Name, &kind, &d.Start, &d.End, &d.Container); err != nil {
			return nil, err
		}
		d.Kind = host.DeclKind(kind)
		decls = append(decls, d)
	}
	return decls, rows.Err()
}

// Occurrences returns where name occurs, either as a code identifier or, with
// inText, as a word in comments and string literals.
func (ix *Index) Occurrences(name string, inText bool) ([]Occurrence, error) {
	rows, err := ix.db.Query(`
        SELECT path, name, start_offset, end_offset, in_text FROM occurrences
        WHERE name = ? AND in_text = ?
        ORDER BY path, start_offset`, name, inText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occs []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.Path, &o.Name, &o.Start, &o.End, &o.InText); err != nil {
			return nil, err
		}
		occs = append(occs, o)
	}
	return occs, rows.Err()
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
