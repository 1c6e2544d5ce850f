// Package restorer initiates cold-tier retrieval for a user's archived
// jobs. Retrieval completion arrives asynchronously and is handled by the
// thawer.
package restorer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

var DefaultWait = 20 * time.Second

// DefaultInitiateAttempts bounds how many times a single job's retrieval
// initiation is retried before that job is abandoned.
var DefaultInitiateAttempts = 10

// DefaultInitiateBackoff is the fixed pause between initiation attempts.
var DefaultInitiateBackoff = 10 * time.Second

// The job record store operations the restorer needs.
type RecordStore interface {
	GetByUser(userID string, status models.JobStatus) ([]*models.AnnotationJob, error)
	MarkRestoring(jobID string) (bool, error)
}

// The queue operations the restorer needs.
type Queue interface {
	Receive(ctx context.Context, name string, wait time.Duration) (*queue.Message, error)
	Delete(name, receipt string) error
}

// Config carries the dependencies and settings for a Restorer.
type Config struct {
	Records RecordStore
	Queue   Queue
	Cold    storage.ColdStore
	Wait    time.Duration
	// InitiateAttempts and InitiateBackoff control the bounded retry
	// loop around retrieval initiation. Zero values take the defaults.
	InitiateAttempts int
	InitiateBackoff  time.Duration
}

// A Restorer consumes restore requests.
type Restorer struct {
	cfg Config
}

func New(cfg Config) *Restorer {
	if cfg.Wait == 0 {
		cfg.Wait = DefaultWait
	}
	if cfg.InitiateAttempts == 0 {
		cfg.InitiateAttempts = DefaultInitiateAttempts
	}
	if cfg.InitiateBackoff == 0 {
		cfg.InitiateBackoff = DefaultInitiateBackoff
	}
	return &Restorer{cfg: cfg}
}

// Poll receives at most one restore request and starts retrieval for every
// ARCHIVED job the user owns. Failure on one job is logged and does not
// block the rest of the batch, and the request message is acknowledged
// once the batch has been walked regardless of per-job outcomes.
func (r *Restorer) Poll(ctx context.Context) error {
	m, err := r.cfg.Queue.Receive(ctx, config.QueueRestore, r.cfg.Wait)
	if err != nil {
		return err
	}
	var rm models.RestoreMessage
	if err := json.Unmarshal(m.Payload, &rm); err != nil {
		log.Printf("restorer: unparseable message %s: %s", m.ID.String(), err)
		go metrics.Increment("restorer.message.unparseable")
		return r.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	archived, err := r.cfg.Records.GetByUser(rm.UserID, models.StatusArchived)
	if err != nil {
		// Couldn't even enumerate the batch; leave the message for
		// redelivery.
		return err
	}
	for _, job := range archived {
		if err := r.restoreJob(ctx, job); err != nil {
			log.Printf("restorer: job %s for user %s: %s", job.ID, rm.UserID, err)
			go metrics.Increment("restorer.job.failed")
		}
	}
	return r.cfg.Queue.Delete(m.Queue, m.Receipt)
}

func (r *Restorer) restoreJob(ctx context.Context, job *models.AnnotationJob) error {
	marked, err := r.cfg.Records.MarkRestoring(job.ID)
	if err != nil {
		return err
	}
	if !marked {
		// Already restoring, or moved on. Duplicate request; nothing to
		// initiate.
		go metrics.Increment("restorer.cas.lost")
		return nil
	}
	c := storage.Correlation{JobID: job.ID, UserID: job.UserID}
	retrievalID, err := r.initiateWithRetry(ctx, job.ArchiveID, c)
	if err != nil {
		// The job stays RESTORING with no retrieval behind it; the
		// stuck-job watchdog reclaims it back to ARCHIVED.
		return err
	}
	go metrics.Increment("restorer.retrieval.initiated")
	log.Printf("restorer: initiated retrieval %s for job %s (archive %s)", retrievalID, job.ID, job.ArchiveID)
	return nil
}

func (r *Restorer) initiateWithRetry(ctx context.Context, archiveID string, c storage.Correlation) (string, error) {
	var lastErr error
	for i := 0; i < r.cfg.InitiateAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.cfg.InitiateBackoff):
			}
		}
		retrievalID, err := r.cfg.Cold.InitiateRetrieval(ctx, archiveID, c)
		if err == nil {
			return retrievalID, nil
		}
		lastErr = err
	}
	return "", lastErr
}
