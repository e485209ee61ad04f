package internal

import (
	"fmt"

	"github.com/mattbonnell/tableq/internal/drivers/mysql"
	"github.com/mattbonnell/tableq/internal/drivers/postgres"
	"github.com/mattbonnell/tableq/internal/drivers/sqlite3"
)

// Dialect describes how the claim protocol runs on a given database engine.
type Dialect struct {
	Name   string
	Schema []string

	// LockClause is appended to the claim SELECT. Empty if the engine has
	// no row-level locks.
	LockClause string
}

// RowLocks reports whether concurrent claimants block on the selected row.
// Without row locks a claim is a compare-and-delete that may lose the race.
func (d Dialect) RowLocks() bool {
	return d.LockClause != ""
}

func GetDialect(driverName string) (Dialect, error) {
	switch driverName {
	case "mysql":
		return Dialect{Name: "mysql", LockClause: mysql.LockClause, Schema: mysql.Schema}, nil
	case "pq":
		fallthrough
	case "pgx":
		fallthrough
	case "postgres":
		return Dialect{Name: "postgres", LockClause: postgres.LockClause, Schema: postgres.Schema}, nil
	case "sqlite3":
		return Dialect{Name: "sqlite3", LockClause: sqlite3.LockClause, Schema: sqlite3.Schema}, nil
	default:
		return Dialect{}, fmt.Errorf("driver '%s' not supported", driverName)
	}
}
