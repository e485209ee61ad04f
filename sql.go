package tableq

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/tableq/internal"
)

const (
	claimQuery = `SELECT id, queue, body, headers, properties, priority, delayed_until, redelivered, consumer_id FROM message WHERE queue = ? AND (delayed_until IS NULL OR delayed_until <= ?) AND consumer_id IS NULL ORDER BY priority DESC, id ASC LIMIT 1`

	deleteQuery = `DELETE FROM message WHERE id = ?`

	insertQuery = `INSERT INTO message (queue, body, headers, properties, priority, delayed_until, redelivered) VALUES (:queue, :body, :headers, :properties, :priority, :delayed_until, :redelivered)`
)

func lockingClaimQuery(d internal.Dialect) string {
	return strings.TrimSpace(claimQuery + " " + d.LockClause)
}

// insertRow inserts r and fails with ErrConsistencyFault unless exactly one
// row was written.
func insertRow(ctx context.Context, e sqlx.ExtContext, r internal.Row) error {
	res, err := sqlx.NamedExecContext(ctx, e, insertQuery, r)
	if err != nil {
		return fmt.Errorf("error inserting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected by insert: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: insert into queue %s affected %d rows", ErrConsistencyFault, r.Queue, n)
	}
	return nil
}
