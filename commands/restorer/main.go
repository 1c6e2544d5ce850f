// Poll for restore requests and initiate cold-tier retrieval for archived
// jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/dequeuer"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/restorer"
	"github.com/QixShawnChen/cloud-gene-annotation/setup"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	dbConns, err := config.GetInt("PG_WORKER_POOL_SIZE")
	if err != nil {
		log.Printf("Error getting database pool size: %s. Defaulting to 20", err)
		dbConns = 20
	}
	err = setup.DB(setup.DefaultConnection, dbConns)
	checkError(err)

	go setup.MeasureActiveQueries(1 * time.Second)
	go setup.MeasureQueueDepth(5 * time.Second)

	metrics.Namespace = "gene-annotation.restorer"
	metrics.Start("restorer")

	cold, err := storage.NewGlacierStore(context.Background(), storage.GlacierConfig{
		Region:      config.GetOrDefault("AWS_REGION", "us-east-1"),
		VaultName:   config.GetOrDefault("GLACIER_VAULT", "gene-annotation-archive"),
		AccountID:   os.Getenv("GLACIER_ACCOUNT_ID"),
		NotifyTopic: os.Getenv("GLACIER_SNS_TOPIC"),
	})
	checkError(err)

	attempts, err := config.GetInt("RESTORE_INITIATE_ATTEMPTS")
	if err != nil {
		attempts = restorer.DefaultInitiateAttempts
	}
	r := restorer.New(restorer.Config{
		Records:          jobs.Store{},
		Queue:            queue.Transport{},
		Cold:             cold,
		InitiateAttempts: attempts,
	})

	numPollers, err := config.GetInt("RESTORER_COUNT")
	if err != nil {
		numPollers = 1
	}
	pool := dequeuer.NewPool("restorer")
	for i := 0; i < numPollers; i++ {
		checkError(pool.AddDequeuer(r))
	}

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	fmt.Printf("Caught signal %v, shutting down...\n", sig)
	if err := pool.Shutdown(); err != nil {
		log.Printf("Error shutting down pool: %s\n", err.Error())
	}
	fmt.Println("Restorer pool shut down. Quitting.")
}
