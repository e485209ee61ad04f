package sqlite3

// sqlite has no row locks. Writers are serialized by the database lock, and
// claims fall back to compare-and-delete.
const (
	LockClause = ""

	messageTable = `CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	body TEXT NOT NULL,
	headers TEXT,
	properties TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	delayed_until INTEGER,
	redelivered BOOLEAN NOT NULL DEFAULT FALSE,
	consumer_id TEXT
);`
	messageQueuePriorityIndex = `CREATE INDEX IF NOT EXISTS message_queue_priority_id ON message (queue, priority, id);`
)

var Schema = []string{messageTable, messageQueuePriorityIndex}
