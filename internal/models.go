package internal

import "database/sql"

// Row is a message as stored in the queue table.
type Row struct {
	ID           int64          `db:"id"`
	Queue        string         `db:"queue"`
	Body         string         `db:"body"`
	Headers      sql.NullString `db:"headers"`
	Properties   sql.NullString `db:"properties"`
	Priority     int64          `db:"priority"`
	DelayedUntil sql.NullInt64  `db:"delayed_until"`
	Redelivered  bool           `db:"redelivered"`

	// ConsumerID is selected on but never written by the claim protocol.
	ConsumerID sql.NullString `db:"consumer_id"`
}
