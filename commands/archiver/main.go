// Poll for archival-eligibility notifications and move standard-tier
// results to the cold storage tier.
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
	"github.com/QixShawnChen/cloud-gene-annotation/archiver"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/dequeuer"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/profiles"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
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

	metrics.Namespace = "gene-annotation.archiver"
	metrics.Start("archiver")

	httpConns, err := config.GetInt("HTTP_MAX_IDLE_CONNS")
	if err == nil {
		config.SetMaxIdleConnsPerHost(httpConns)
	} else {
		config.SetMaxIdleConnsPerHost(100)
	}

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

	profilePassword := os.Getenv("PROFILE_SERVICE_AUTH")
	if profilePassword == "" {
		log.Printf("No PROFILE_SERVICE_AUTH configured, setting an empty password for auth")
	}
	profileURL := config.GetURLOrBail("PROFILE_SERVICE_URL")

	a := archiver.New(archiver.Config{
		Records:           jobs.Store{},
		Queue:             queue.Transport{},
		Blobs:             blobs,
		Cold:              cold,
		Profiles:          profiles.NewClient("archiver", profilePassword, profileURL.String()),
		Buckets:           config.LoadBuckets(),
		ReArchiveRestored: os.Getenv("REARCHIVE_RESTORED_JOBS") == "true",
	})

	numPollers, err := config.GetInt("ARCHIVER_COUNT")
	if err != nil {
		numPollers = 2
	}
	pool := dequeuer.NewPool("archiver")
	for i := 0; i < numPollers; i++ {
		checkError(pool.AddDequeuer(a))
	}

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	fmt.Printf("Caught signal %v, shutting down...\n", sig)
	if err := pool.Shutdown(); err != nil {
		log.Printf("Error shutting down pool: %s\n", err.Error())
	}
	fmt.Println("Archiver pool shut down. Quitting.")
}
