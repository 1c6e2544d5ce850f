// Poll for submitted jobs and launch annotation tasks.
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
	"github.com/QixShawnChen/cloud-gene-annotation/annotator"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/dequeuer"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/services"
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
	go setup.MeasureJobsByStatus(5 * time.Second)

	if os.Getenv("WATCH_STUCK_JOBS") == "true" {
		// Every minute, return RUNNING jobs that haven't been touched in
		// 30 minutes to PENDING, and stuck RESTORING jobs to ARCHIVED.
		go services.WatchStuckJobs(1*time.Minute, 30*time.Minute)
	}

	metrics.Namespace = "gene-annotation.annotator"
	metrics.Start("annotator")

	blobs, err := storage.NewS3Store(context.Background(), storage.S3Config{
		Region:          config.GetOrDefault("AWS_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	checkError(err)

	a := annotator.New(annotator.Config{
		Records: jobs.Store{},
		Queue:   queue.Transport{},
		Blobs:   blobs,
		Buckets: config.LoadBuckets(),
		WorkDir: config.GetOrDefault("ANNOTATE_WORK_DIR", "/tmp/gene-annotation"),
		Launcher: &annotator.TaskLauncher{
			Tool: config.GetOrDefault("ANNOTATE_TASK_BIN", "cga-annotate-task"),
		},
	})

	numPollers, err := config.GetInt("ANNOTATOR_COUNT")
	if err != nil {
		numPollers = 2
	}
	pool := dequeuer.NewPool("annotator")
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
	fmt.Println("Annotator pool shut down. Quitting.")
}
