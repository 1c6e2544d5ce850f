// The annotation task launched by the annotator for one claimed job. It
// runs the external annotation tool against the staged input, then uploads
// the result and log, marks the job COMPLETED, and publishes the
// archival-eligibility notification.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/annotator"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
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
	jobID := flag.String("job-id", "", "Id of the claimed job")
	userID := flag.String("user-id", "", "Owner of the claimed job")
	input := flag.String("input", "", "Path to the staged input file")
	flag.Parse()
	if *jobID == "" || *userID == "" || *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	err := setup.DB(setup.DefaultConnection, 5)
	checkError(err)

	metrics.Namespace = "gene-annotation.task"
	metrics.Start("task")

	workdir := filepath.Dir(*input)
	resultPath := filepath.Join(workdir, fmt.Sprintf("%s.annot.vcf", *jobID))
	logPath := filepath.Join(workdir, fmt.Sprintf("%s.log", *jobID))

	tool := config.GetOrDefault("ANNOTATE_TOOL", "vep")
	cmd := exec.Command(tool, "-i", *input, "-o", resultPath)
	logFile, err := os.Create(logPath)
	checkError(err)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	runErr := cmd.Run()
	logFile.Close()
	if runErr != nil {
		// Leave the job RUNNING for the watchdog and keep the workdir
		// around for debugging.
		log.Fatalf("annotation tool failed for job %s: %s", *jobID, runErr)
	}

	blobs, err := storage.NewS3Store(context.Background(), storage.S3Config{
		Region:          config.GetOrDefault("AWS_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	checkError(err)

	c := &annotator.Completer{
		Records: jobs.Store{},
		Queue:   queue.Transport{},
		Blobs:   blobs,
		Buckets: config.LoadBuckets(),
	}
	err = c.Complete(context.Background(), *jobID, *userID, resultPath, logPath)
	checkError(err)
	log.Printf("job %s completed", *jobID)
}
