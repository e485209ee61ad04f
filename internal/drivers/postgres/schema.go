package postgres

const (
	LockClause = "FOR UPDATE"

	messageTable = `CREATE TABLE IF NOT EXISTS message (
	id BIGSERIAL PRIMARY KEY,
	queue VARCHAR(255) NOT NULL,
	body TEXT NOT NULL,
	headers TEXT,
	properties TEXT,
	priority SMALLINT NOT NULL DEFAULT 0,
	delayed_until BIGINT,
	redelivered BOOLEAN NOT NULL DEFAULT FALSE,
	consumer_id VARCHAR(255)
);`
	messageQueuePriorityIndex = `CREATE INDEX IF NOT EXISTS message_queue_priority_id ON message (queue, priority DESC, id ASC);`
)

var Schema = []string{messageTable, messageQueuePriorityIndex}
