package annotator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

// TaskLauncher launches the annotation tool as a detached process. The
// started process outlives the polling loop that launched it and reports
// completion itself through a Completer.
type TaskLauncher struct {
	// Tool is the path to the annotation task binary.
	Tool string
	// ExtraArgs are appended after the job arguments.
	ExtraArgs []string
}

func (t *TaskLauncher) Launch(ctx context.Context, msg *models.SubmissionMessage, inputPath string) error {
	args := []string{
		"-job-id", msg.JobID,
		"-user-id", msg.UserID,
		"-input", inputPath,
	}
	args = append(args, t.ExtraArgs...)
	cmd := exec.Command(t.Tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("annotator: start %s: %w", t.Tool, err)
	}
	// Reap the child so it doesn't stay a zombie. Exit status is not the
	// launcher's concern; a crashed task leaves the job RUNNING for the
	// watchdog.
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("annotator: task for job %s exited: %s", msg.JobID, err)
		}
	}()
	return nil
}

// The record store operations the completion path needs.
type CompleterStore interface {
	Complete(jobID, resultRef, logRef string, completeTime time.Time) error
}

// The publish half of the queue, for the archival-eligibility
// notification.
type Publisher interface {
	Publish(topic string, payload []byte) (int, error)
}

// A Completer finishes a job from inside the annotation task: it uploads
// the result and log blobs, marks the record COMPLETED, and publishes the
// archival-eligibility notification. At this point the task is the sole
// writer for the job, so the status write is unconditional.
type Completer struct {
	Records CompleterStore
	Queue   Publisher
	Blobs   storage.BlobStore
	Buckets config.Buckets
}

// ResultKey returns the hot-storage key a job's result is uploaded to.
func ResultKey(userID, jobID string) string {
	return fmt.Sprintf("%s/%s/%s.annot.vcf", userID, jobID, jobID)
}

// LogKey returns the hot-storage key a job's log is uploaded to.
func LogKey(userID, jobID string) string {
	return fmt.Sprintf("%s/%s/%s.log", userID, jobID, jobID)
}

// Complete uploads the files at resultPath and logPath, records their
// locations and the completion time, and publishes one archive message.
// The job's working directory is removed afterward regardless of outcome.
func (c *Completer) Complete(ctx context.Context, jobID, userID, resultPath, logPath string) error {
	defer func() {
		workdir := filepath.Dir(resultPath)
		if err := os.RemoveAll(workdir); err != nil {
			log.Printf("annotator: could not remove workdir %s: %s", workdir, err)
		}
	}()

	resultRef := ResultKey(userID, jobID)
	if err := c.uploadFile(ctx, resultRef, resultPath); err != nil {
		return err
	}
	logRef := LogKey(userID, jobID)
	if err := c.uploadFile(ctx, logRef, logPath); err != nil {
		return err
	}
	if err := c.Records.Complete(jobID, resultRef, logRef, time.Now().UTC()); err != nil {
		return err
	}
	go metrics.Increment("annotator.job.completed")

	am := models.ArchiveMessage{
		MessageType: models.TypeArchive,
		JobID:       jobID,
		UserID:      userID,
	}
	payload, err := json.Marshal(am)
	if err != nil {
		return err
	}
	if _, err := c.Queue.Publish(config.TopicArchive, payload); err != nil {
		return err
	}
	return nil
}

func (c *Completer) uploadFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Blobs.Upload(ctx, c.Buckets.Results, key, f)
}
