package mysql

const (
	LockClause = "FOR UPDATE"

	message = `CREATE TABLE IF NOT EXISTS message (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	queue VARCHAR(255) NOT NULL,
	body LONGTEXT NOT NULL,
	headers TEXT,
	properties TEXT,
	priority SMALLINT NOT NULL DEFAULT 0,
	delayed_until BIGINT,
	redelivered BOOLEAN NOT NULL DEFAULT FALSE,
	consumer_id VARCHAR(255),
	INDEX queue_priority_id (queue, priority, id)
);`
)

var Schema = []string{message}
