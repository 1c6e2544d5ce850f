// Package annotator runs newly submitted annotation jobs. The polling loop
// claims a PENDING job, stages its input locally, and launches the
// annotation task as an isolated process; the task reports completion
// out-of-band through a Completer, so queue redelivery never re-launches a
// job that is already RUNNING.
package annotator

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

// DefaultWait is how long a single receive blocks waiting for a
// submission message.
var DefaultWait = 20 * time.Second

// The job record store operations the annotator needs.
type RecordStore interface {
	Get(jobID string) (*models.AnnotationJob, error)
	UpdateStatus(jobID string, expected, next models.JobStatus) (bool, error)
}

// The queue operations the annotator needs.
type Queue interface {
	Receive(ctx context.Context, name string, wait time.Duration) (*queue.Message, error)
	Delete(name, receipt string) error
}

// A Launcher starts the annotation task for a claimed job. Launch returns
// once the task is running; it does not wait for the task to finish.
type Launcher interface {
	Launch(ctx context.Context, msg *models.SubmissionMessage, inputPath string) error
}

// Config carries the dependencies and settings for an Annotator. All
// fields except Wait are required.
type Config struct {
	Records  RecordStore
	Queue    Queue
	Blobs    storage.BlobStore
	Launcher Launcher
	Buckets  config.Buckets
	// WorkDir is the root of the per-job working directories.
	WorkDir string
	// Wait is the long-poll duration for a single receive. Defaults to
	// DefaultWait.
	Wait time.Duration
}

// An Annotator consumes submission messages and launches annotation tasks.
type Annotator struct {
	cfg Config
}

func New(cfg Config) *Annotator {
	if cfg.Wait == 0 {
		cfg.Wait = DefaultWait
	}
	return &Annotator{cfg: cfg}
}

// Poll receives at most one submission message and processes it. A nil
// return does not mean the job advanced: a message that lost the claim
// race is left in the queue for redelivery, and a message whose work was
// already done elsewhere is acknowledged and dropped.
func (a *Annotator) Poll(ctx context.Context) error {
	m, err := a.cfg.Queue.Receive(ctx, config.QueueSubmissions, a.cfg.Wait)
	if err != nil {
		return err
	}
	var sm models.SubmissionMessage
	if err := json.Unmarshal(m.Payload, &sm); err != nil {
		// Not a submission message; it will never parse, so drop it.
		log.Printf("annotator: unparseable message %s: %s", m.ID.String(), err)
		go metrics.Increment("annotator.message.unparseable")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	inputPath := filepath.Join(a.cfg.WorkDir, sm.JobID, filepath.Base(sm.InputRef))
	if err := a.cfg.Blobs.Download(ctx, a.cfg.Buckets.Inputs, sm.InputRef, inputPath); err != nil {
		// Transient; leave the message for redelivery.
		return err
	}

	job, err := a.cfg.Records.Get(sm.JobID)
	if err == jobs.ErrNotFound {
		// No record behind the message; it can never be processed.
		log.Printf("annotator: no record for job %s, dropping message", sm.JobID)
		go metrics.Increment("annotator.record.missing")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	if err != nil {
		return err
	}
	if job.Status != models.StatusPending {
		// Another instance claimed it, or a duplicate delivery arrived
		// after the first launch. Leave the message; redelivery is a
		// cheap no-op and the visibility timeout spaces out retries.
		go metrics.Increment("annotator.claim.skipped")
		return nil
	}
	claimed, err := a.cfg.Records.UpdateStatus(sm.JobID, models.StatusPending, models.StatusRunning)
	if err != nil {
		return err
	}
	if !claimed {
		go metrics.Increment("annotator.claim.lost")
		return nil
	}

	if err := a.cfg.Launcher.Launch(ctx, &sm, inputPath); err != nil {
		// The job is RUNNING with no task behind it. The stuck-job
		// watchdog is the reclaim path for this state.
		log.Printf("annotator: job %s claimed but launch failed: %s", sm.JobID, err)
		go metrics.Increment("annotator.launch.failed")
		return err
	}
	go metrics.Increment("annotator.launch.success")
	return a.cfg.Queue.Delete(m.Queue, m.Receipt)
}
