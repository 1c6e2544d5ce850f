// Package queue implements the durable message transport: named queues
// with at-least-once delivery and long-poll receives, plus fan-out topics
// that duplicate one publish into every subscribed queue.
//
// Messages live in the "queue_messages" table. A receive reserves the
// oldest visible message and hides it for VisibilityTimeout; a consumer
// that crashes without deleting its message simply lets the reservation
// lapse, and the message becomes visible again. Deletion is the only
// acknowledgment.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	dberror "github.com/Shyp/go-dberror"
	godebug "github.com/Shyp/go-debug"
	types "github.com/Shyp/go-types"
	"github.com/QixShawnChen/cloud-gene-annotation/models/db"
)

// Enable with DEBUG=queue in the environment.
var debug = godebug.Debug("queue")

// ErrNoMessages indicates the long poll elapsed without a visible message.
var ErrNoMessages = errors.New("No messages available")

// ErrNotFound indicates no reserved message matched the given receipt. The
// reservation may have lapsed and been re-delivered to another consumer.
var ErrNotFound = errors.New("Message not found")

// VisibilityTimeout is how long a received message stays hidden from other
// consumers before the queue re-delivers it.
var VisibilityTimeout = 60 * time.Second

// pollInterval is how long Receive sleeps between acquisition attempts
// while long polling.
var pollInterval = 250 * time.Millisecond

// A Message is one delivery from a queue. Receipt identifies this
// particular delivery; it must be presented to Delete or ChangeVisibility
// and goes stale once the visibility timeout lapses.
type Message struct {
	ID       types.PrefixUUID
	Queue    string
	Receipt  string
	Attempts int
	Payload  json.RawMessage
}

const Prefix = "msg_"

var publishStmt *sql.Stmt
var sendStmt *sql.Stmt
var acquireStmt *sql.Stmt
var deleteStmt *sql.Stmt
var visibilityStmt *sql.Stmt
var subscribeStmt *sql.Stmt
var depthStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if publishStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- queue.Publish
INSERT INTO queue_messages (id, queue, payload)
SELECT uuid_generate_v4(), queue, $2
FROM queue_subscriptions
WHERE topic = $1
RETURNING '%s' || id`, Prefix)
	publishStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.Send
INSERT INTO queue_messages (id, queue, payload)
VALUES ($1, $2, $3)`
	sendStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.Receive
WITH next_message AS (
	SELECT id AS inner_id
	FROM queue_messages
	WHERE queue = $1
		AND visible_at <= now()
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) UPDATE queue_messages
SET receipt = $2,
	visible_at = now() + $3 * interval '1 second',
	attempts = attempts + 1,
	updated_at = now()
FROM next_message
WHERE queue_messages.id = next_message.inner_id
RETURNING %s`, fields())
	acquireStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.Delete
DELETE FROM queue_messages WHERE queue = $1 AND receipt = $2`
	deleteStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.ChangeVisibility
UPDATE queue_messages
SET visible_at = now() + $3 * interval '1 second',
	updated_at = now()
WHERE queue = $1
	AND receipt = $2
	AND visible_at > now()`
	visibilityStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.Subscribe
INSERT INTO queue_subscriptions (topic, queue)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`
	subscribeStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.Depth
SELECT queue, count(*) FROM queue_messages GROUP BY queue`
	depthStmt, err = db.Conn.Prepare(query)
	return
}

// Subscribe routes future publishes on topic into the named queue.
// Subscribing twice is a no-op.
func Subscribe(topic, name string) error {
	_, err := subscribeStmt.Exec(topic, name)
	if err != nil {
		return dberror.GetError(err)
	}
	return nil
}

// Publish duplicates payload into every queue subscribed to topic, and
// returns the number of queues that received a copy. Publishing to a topic
// with no subscribers delivers nothing and returns zero.
func Publish(topic string, payload []byte) (int, error) {
	rows, err := publishStmt.Query(topic, payload)
	if err != nil {
		return 0, dberror.GetError(err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	debug("published to %s, %d queues received a copy", topic, count)
	return count, rows.Err()
}

// Send places payload directly on a single named queue, bypassing topic
// fan-out.
func Send(name string, payload []byte) error {
	id, err := types.GenerateUUID("")
	if err != nil {
		return err
	}
	if _, err := sendStmt.Exec(id, name, payload); err != nil {
		return dberror.GetError(err)
	}
	return nil
}

// Receive long-polls the named queue for up to wait, returning the oldest
// visible message or ErrNoMessages. The returned message is hidden from
// other consumers for VisibilityTimeout.
func Receive(ctx context.Context, name string, wait time.Duration) (*Message, error) {
	deadline := time.Now().Add(wait)
	for {
		m, err := acquire(name)
		if err == nil {
			debug("received message %s from %s (attempt %d)", m.ID.String(), name, m.Attempts)
			return m, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNoMessages
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(pollInterval)):
		}
	}
}

// Delete acknowledges a delivery, removing the message for good. Returns
// ErrNotFound if the receipt has gone stale.
func Delete(name, receipt string) error {
	res, err := deleteStmt.Exec(name, receipt)
	if err != nil {
		return dberror.GetError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// ChangeVisibility re-hides a reserved message for delay past now, so the
// queue re-presents it later instead of the consumer blocking on it.
// Returns ErrNotFound if the receipt has gone stale.
func ChangeVisibility(name, receipt string, delay time.Duration) error {
	res, err := visibilityStmt.Exec(name, receipt, int64(delay/time.Second))
	if err != nil {
		return dberror.GetError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// Depths returns the number of messages in each queue, visible or not.
func Depths() (map[string]int64, error) {
	rows, err := depthStmt.Query()
	m := make(map[string]int64)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return m, err
		}
		m[name] = count
	}
	err = rows.Err()
	return m, err
}

func acquire(name string) (*Message, error) {
	receipt, err := types.GenerateUUID("rcpt_")
	if err != nil {
		return nil, err
	}
	m := new(Message)
	var bt []byte
	err = acquireStmt.QueryRow(name, receipt.String(), int64(VisibilityTimeout/time.Second)).
		Scan(&m.ID, &m.Queue, &m.Receipt, &m.Attempts, &bt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, dberror.GetError(err)
	}
	m.Payload = json.RawMessage(bt)
	return m, nil
}

// jitter returns a value that's around the given val, but not exactly it.
func jitter(val time.Duration) time.Duration {
	f := float64(val)
	return time.Duration(f*0.8 + rand.Float64()*0.2*2*f)
}

func fields() string {
	return fmt.Sprintf(`'%s' || queue_messages.id,
	queue,
	receipt,
	attempts,
	payload`, Prefix)
}
