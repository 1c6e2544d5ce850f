// Package archiver moves completed results into the cold storage tier.
// Only standard-tier users are archived; premium users keep their results
// in hot storage.
package archiver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/profiles"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

var DefaultWait = 20 * time.Second

// The job record store operations the archiver needs.
type RecordStore interface {
	Get(jobID string) (*models.AnnotationJob, error)
	Archive(jobID string, expected models.JobStatus, archiveID string) (bool, error)
}

// The queue operations the archiver needs.
type Queue interface {
	Receive(ctx context.Context, name string, wait time.Duration) (*queue.Message, error)
	Delete(name, receipt string) error
}

// ProfileDirectory classifies users into archival tiers.
type ProfileDirectory interface {
	Get(userID string) (*profiles.Profile, error)
}

// Config carries the dependencies and settings for an Archiver.
type Config struct {
	Records  RecordStore
	Queue    Queue
	Blobs    storage.BlobStore
	Cold     storage.ColdStore
	Profiles ProfileDirectory
	Buckets  config.Buckets
	// ReArchiveRestored allows jobs that have been restored to be
	// archived again on a later eligibility notification. Off by
	// default; the trigger for a re-downgrade is an operator policy
	// decision, not an automatic one.
	ReArchiveRestored bool
	Wait              time.Duration
}

// An Archiver consumes archival-eligibility notifications.
type Archiver struct {
	cfg Config
}

func New(cfg Config) *Archiver {
	if cfg.Wait == 0 {
		cfg.Wait = DefaultWait
	}
	return &Archiver{cfg: cfg}
}

// Poll receives at most one eligibility notification and processes it.
// The cold upload, the conditional status update, the hot-blob delete, and
// the acknowledgment run in strict sequence; an error at any step leaves
// the message unacknowledged so redelivery retries the whole sequence.
// The cold upload tolerates being repeated.
func (a *Archiver) Poll(ctx context.Context) error {
	m, err := a.cfg.Queue.Receive(ctx, config.QueueArchive, a.cfg.Wait)
	if err != nil {
		return err
	}
	var am models.ArchiveMessage
	if err := json.Unmarshal(m.Payload, &am); err != nil {
		log.Printf("archiver: unparseable message %s: %s", m.ID.String(), err)
		go metrics.Increment("archiver.message.unparseable")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	profile, err := a.cfg.Profiles.Get(am.UserID)
	if err != nil {
		return err
	}
	if profile.Tier != profiles.TierStandard {
		go metrics.Increment("archiver.tier.skipped")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	job, err := a.cfg.Records.Get(am.JobID)
	if err == jobs.ErrNotFound {
		log.Printf("archiver: no record for job %s, dropping message", am.JobID)
		go metrics.Increment("archiver.record.missing")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	if err != nil {
		return err
	}
	expected := models.StatusCompleted
	if job.Status == models.StatusRestored && a.cfg.ReArchiveRestored {
		expected = models.StatusRestored
	}
	if job.Status != expected || job.ResultRef == "" {
		// Missing record, missing result, or the job already moved on.
		// Terminal for this message.
		go metrics.Increment("archiver.job.skipped")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	body, err := a.cfg.Blobs.GetBytes(ctx, a.cfg.Buckets.Results, job.ResultRef)
	if err != nil {
		return err
	}
	archiveID, err := a.cfg.Cold.Archive(ctx, body)
	if err != nil {
		return err
	}
	archived, err := a.cfg.Records.Archive(am.JobID, expected, archiveID)
	if err != nil {
		return err
	}
	if !archived {
		// Lost the race; whoever won owns the hot-blob cleanup. The
		// archive we just uploaded is unrecorded and orphaned, which
		// the cold tier tolerates.
		go metrics.Increment("archiver.cas.lost")
		return a.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	if err := a.cfg.Blobs.Delete(ctx, a.cfg.Buckets.Results, job.ResultRef); err != nil {
		return err
	}
	go metrics.Increment("archiver.job.archived")
	return a.cfg.Queue.Delete(m.Queue, m.Receipt)
}
