package tableq

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const arbitraryDriverName = "mysql"

// newSQLiteClient returns a client backed by a fresh sqlite file. Transactions
// begin IMMEDIATE so concurrent claims queue on the database lock.
func newSQLiteClient(t *testing.T, opts ...Option) (*Client, *sqlx.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", filepath.Join(t.TempDir(), "tableq.db"))
	db, err := sqlx.Connect("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := NewClient(db, append([]Option{WithCreateSchema(true)}, opts...)...)
	require.NoError(t, err)
	return c, db
}

func countRows(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT count(*) FROM message"))
	return n
}
