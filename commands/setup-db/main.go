// Create the database tables and wire the topic subscriptions.
package main

import (
	"database/sql"
	"log"

	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models/db"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/setup"
)

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// Each topic fans out into the queues that subscribe to it. Today each
// topic has exactly one consumer queue; the subscription table makes
// adding another cheap.
var subscriptions = map[string]string{
	config.TopicSubmissions: config.QueueSubmissions,
	config.TopicArchive:     config.QueueArchive,
	config.TopicRestore:     config.QueueRestore,
	config.TopicRetrieval:   config.QueueThaw,
}

func main() {
	// Connect without preparing statements: the tables may not exist yet.
	conn := setup.DefaultConnection
	checkError(connectOnly(conn))
	checkError(db.CreateTables())
	checkError(setup.PrepareAll())
	for topic, q := range subscriptions {
		checkError(queue.Subscribe(topic, q))
		log.Printf("subscribed queue %q to topic %q", q, topic)
	}
	log.Println("database ready")
}

func connectOnly(c db.Connector) error {
	if db.Conn == nil {
		db.Conn = &sql.DB{}
	}
	return c.Connect(db.Conn, 5)
}
