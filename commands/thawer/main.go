// Poll for cold-tier retrieval notifications and copy retrieved results
// back to hot storage.
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
	"github.com/QixShawnChen/cloud-gene-annotation/setup"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
	"github.com/QixShawnChen/cloud-gene-annotation/thawer"
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

	metrics.Namespace = "gene-annotation.thawer"
	metrics.Start("thawer")

	ctx := context.Background()
	blobs, err := storage.NewS3Store(ctx, storage.S3Config{
		Region:          config.GetOrDefault("AWS_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	checkError(err)
	cold, err := storage.NewGlacierStore(ctx, storage.GlacierConfig{
		Region:      config.GetOrDefault("AWS_REGION", "us-east-1"),
		VaultName:   config.GetOrDefault("GLACIER_VAULT", "gene-annotation-archive"),
		AccountID:   os.Getenv("GLACIER_ACCOUNT_ID"),
		NotifyTopic: os.Getenv("GLACIER_SNS_TOPIC"),
	})
	checkError(err)

	t := thawer.New(thawer.Config{
		Records: jobs.Store{},
		Queue:   queue.Transport{},
		Blobs:   blobs,
		Cold:    cold,
		Buckets: config.LoadBuckets(),
	})

	numPollers, err := config.GetInt("THAWER_COUNT")
	if err != nil {
		numPollers = 1
	}
	pool := dequeuer.NewPool("thawer")
	for i := 0; i < numPollers; i++ {
		checkError(pool.AddDequeuer(t))
	}

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	fmt.Printf("Caught signal %v, shutting down...\n", sig)
	if err := pool.Shutdown(); err != nil {
		log.Printf("Error shutting down pool: %s\n", err.Error())
	}
	fmt.Println("Thawer pool shut down. Quitting.")
}
