// Package enginedb wraps the embedded SQL engine (github.com/ncruces/go-sqlite3,
// the teacher's own dependency, reused here for its designed purpose) behind
// a narrow surface: open a tenant database file, run a single statement,
// snapshot it via VACUUM INTO, and replay/dump DDL for schema artifacts.
//
// The core never imports database/sql driver internals directly outside
// this package, so the embedded engine stays swappable.
package enginedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is an opened tenant (or schema-artifact) database file.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the SQLite file at path in read-write mode, creating it if
// absent, with a busy timeout so concurrent local writers queue rather
// than fail immediately (per §5's note that the embedded engine's own
// file locking arbitrates concurrent access to the same hot-cache file).
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("enginedb: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // one writer at a time per process handle; the file itself may be shared across processes
	return &DB{conn: conn, path: path}, nil
}

// OpenReadOnly opens path for read access only, used by the Query
// Executor so accidental writes from a read request are impossible.
func OpenReadOnly(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("enginedb: open-ro %s: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

// OpenInMemory opens a private in-memory database, used by the schema
// migration coordinator to replay DDL before committing it anywhere.
func OpenInMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("enginedb: open in-memory: %w", err)
	}
	return &DB{conn: conn, path: ":memory:"}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Conn exposes the raw *sql.DB for callers that need transaction control
// beyond what this package wraps (the migration engine, in particular).
func (d *DB) Conn() *sql.DB { return d.conn }

// ExecWrite runs a single write statement outside any caller-managed
// transaction and reports rows affected.
func (d *DB) ExecWrite(ctx context.Context, stmt string) (int64, error) {
	res, err := d.conn.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueryRows executes a single read-only statement and materializes the
// result as an ordered sequence of column-name→value mappings, matching
// the §4.3 contract.
func (d *DB) QueryRows(ctx context.Context, stmt string) ([]map[string]any, error) {
	rows, err := d.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts driver-returned []byte (SQLite has no native
// TEXT/BLOB distinction at the driver boundary) into string for JSON
// marshaling ergonomics.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// SnapshotTo produces a compact, transactionally consistent copy of the
// database at dstPath using the engine's VACUUM INTO support — the
// embedded engine's copy-to-new-file operation referenced throughout the
// spec as the snapshot primitive.
func (d *DB) SnapshotTo(ctx context.Context, dstPath string) error {
	stmt := fmt.Sprintf("VACUUM INTO %s", quoteLiteral(dstPath))
	_, err := d.conn.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("enginedb: vacuum into %s: %w", dstPath, err)
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// DumpSchema returns the CREATE statements currently registered in
// sqlite_master, in a stable order, for writing back out as a schema
// artifact after a migration replay.
func (d *DB) DumpSchema(ctx context.Context) (string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT sql FROM sqlite_master
		WHERE sql IS NOT NULL
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", err
		}
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String(), rows.Err()
}

// ReplayDDL executes a full DDL script (as produced by DumpSchema, or the
// original schema artifact text) statement by statement. Empty statements
// (trailing semicolons, blank lines) are skipped.
func (d *DB) ReplayDDL(ctx context.Context, script string) error {
	for _, stmt := range splitStatements(script) {
		if stmt == "" {
			continue
		}
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("enginedb: replay DDL %q: %w", truncate(stmt, 80), err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ColumnExists reports whether table has a column named name, used by
// the migration engine's idempotent ADD_COLUMN handling.
func (d *DB) ColumnExists(ctx context.Context, table, name string) (bool, error) {
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return false, err
		}
		for i, c := range cols {
			if strings.EqualFold(c, "name") {
				if s, ok := values[i].(string); ok && strings.EqualFold(s, name) {
					return true, nil
				}
				if b, ok := values[i].([]byte); ok && strings.EqualFold(string(b), name) {
					return true, nil
				}
			}
		}
	}
	return false, rows.Err()
}

// TableExists reports whether a table with the given name is registered
// in sqlite_master, used by RENAME_TABLE's destination-collision check.
func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// quoteIdent quotes an already-validated identifier for interpolation
// into DDL where the driver offers no placeholder support (table/column
// names). Callers MUST validate the identifier against the §4.8 regex
// before reaching here.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteIdent exposes quoteIdent for the migration package.
func QuoteIdent(ident string) string { return quoteIdent(ident) }
