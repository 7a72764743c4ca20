package enginedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ExecWriteAndQueryRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecWrite(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	n, err := db.ExecWrite(ctx, `INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b')`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rows, err := db.QueryRows(ctx, `SELECT id, name FROM t ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "a", rows[0]["name"])
}

func TestOpenReadOnly_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.ExecWrite(ctx, `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.ExecWrite(ctx, `INSERT INTO t VALUES (1)`)
	assert.Error(t, err)
}

func TestColumnExistsAndTableExists(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	exists, err := db.TableExists(ctx, "Users")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = db.ExecWrite(ctx, `CREATE TABLE "Users" (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	exists, err = db.TableExists(ctx, "Users")
	require.NoError(t, err)
	assert.True(t, exists)

	colExists, err := db.ColumnExists(ctx, "Users", "email")
	require.NoError(t, err)
	assert.False(t, colExists)

	_, err = db.ExecWrite(ctx, `ALTER TABLE "Users" ADD COLUMN email TEXT`)
	require.NoError(t, err)

	colExists, err = db.ColumnExists(ctx, "Users", "email")
	require.NoError(t, err)
	assert.True(t, colExists)
}

func TestSnapshotTo_CopiesRows(t *testing.T) {
	ctx := context.Background()
	src, err := OpenInMemory()
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ExecWrite(ctx, `CREATE TABLE t (n INTEGER)`)
	require.NoError(t, err)
	_, err = src.ExecWrite(ctx, `INSERT INTO t VALUES (1), (2)`)
	require.NoError(t, err)

	dstPath := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, src.SnapshotTo(ctx, dstPath))

	snap, err := Open(dstPath)
	require.NoError(t, err)
	defer snap.Close()

	rows, err := snap.QueryRows(ctx, `SELECT n FROM t ORDER BY n`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestDumpSchemaAndReplayDDLRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, err := OpenInMemory()
	require.NoError(t, err)
	defer src.Close()
	_, err = src.ExecWrite(ctx, `CREATE TABLE "Users" (id INTEGER PRIMARY KEY, email TEXT)`)
	require.NoError(t, err)

	dump, err := src.DumpSchema(ctx)
	require.NoError(t, err)
	assert.Contains(t, dump, "Users")

	dst, err := OpenInMemory()
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.ReplayDDL(ctx, dump))

	exists, err := dst.TableExists(ctx, "Users")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"Users"`, QuoteIdent("Users"))
	assert.Equal(t, `"has""quote"`, QuoteIdent(`has"quote`))
}
