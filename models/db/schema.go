package db

import "errors"

// Schema holds the DDL for every table the coordinator uses. The
// queue_messages primary key comes from uuid-ossp, which must be available
// in the target database.
const Schema = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

CREATE TABLE IF NOT EXISTS annotation_jobs (
	job_id text PRIMARY KEY,
	user_id text NOT NULL,
	status text NOT NULL,
	submit_time timestamptz NOT NULL,
	complete_time timestamptz,
	input_ref text NOT NULL,
	result_ref text,
	log_ref text,
	archive_id text,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS annotation_jobs_user_id_idx ON annotation_jobs (user_id);
CREATE INDEX IF NOT EXISTS annotation_jobs_status_idx ON annotation_jobs (status);

CREATE TABLE IF NOT EXISTS queue_subscriptions (
	topic text NOT NULL,
	queue text NOT NULL,
	PRIMARY KEY (topic, queue)
);

CREATE TABLE IF NOT EXISTS queue_messages (
	id uuid PRIMARY KEY,
	queue text NOT NULL,
	payload jsonb NOT NULL,
	attempts integer NOT NULL DEFAULT 0,
	receipt text,
	visible_at timestamptz NOT NULL DEFAULT now(),
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS queue_messages_queue_visible_idx ON queue_messages (queue, visible_at);
`

// CreateTables applies the schema to the connected database.
func CreateTables() error {
	if !Connected() {
		return errors.New("No DB connection was established, can't create tables")
	}
	_, err := Conn.Exec(Schema)
	return err
}
