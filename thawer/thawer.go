// Package thawer finishes a restore: when the cold tier reports a
// retrieval complete, the thawer copies the retrieved bytes back to hot
// storage and marks the job RESTORED.
package thawer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/storage"
)

var DefaultWait = 20 * time.Second

// DefaultRequeueDelay is how long an in-progress notification stays
// invisible before it is re-presented. Cold-tier retrievals take minutes
// to hours, so there is no point re-checking sooner.
var DefaultRequeueDelay = 5 * time.Minute

// The job record store operations the thawer needs.
type RecordStore interface {
	MarkRestored(jobID, resultRef string) (bool, error)
}

// The queue operations the thawer needs.
type Queue interface {
	Receive(ctx context.Context, name string, wait time.Duration) (*queue.Message, error)
	Delete(name, receipt string) error
	ChangeVisibility(name, receipt string, delay time.Duration) error
}

// Config carries the dependencies and settings for a Thawer.
type Config struct {
	Records RecordStore
	Queue   Queue
	Blobs   storage.BlobStore
	Cold    storage.ColdStore
	Buckets config.Buckets
	Wait    time.Duration
	// RequeueDelay is how long to defer a notification whose retrieval
	// is still in progress. Defaults to DefaultRequeueDelay.
	RequeueDelay time.Duration
}

// A Thawer consumes retrieval-completion notifications.
type Thawer struct {
	cfg Config
}

func New(cfg Config) *Thawer {
	if cfg.Wait == 0 {
		cfg.Wait = DefaultWait
	}
	if cfg.RequeueDelay == 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	return &Thawer{cfg: cfg}
}

// RestoredKey returns the hot-storage key a restored result is uploaded
// to. Deterministic given the job, so a duplicate notification overwrites
// rather than accumulates.
func RestoredKey(jobID string) string {
	return fmt.Sprintf("restored/%s", jobID)
}

// Poll receives at most one retrieval notification and processes it. The
// notification's status code is a hint only; the cold tier is re-asked for
// the authoritative status before any mutation. An in-progress retrieval
// defers the notification with a visibility delay instead of blocking the
// loop.
func (t *Thawer) Poll(ctx context.Context) error {
	m, err := t.cfg.Queue.Receive(ctx, config.QueueThaw, t.cfg.Wait)
	if err != nil {
		return err
	}
	var n models.RetrievalNotification
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		log.Printf("thawer: unparseable message %s: %s", m.ID.String(), err)
		go metrics.Increment("thawer.message.unparseable")
		return t.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	if n.Action != models.ActionArchiveRetrieval {
		go metrics.Increment("thawer.action.skipped")
		return t.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	jobID, userID, err := correlate(&n)
	if err != nil {
		log.Printf("thawer: notification %s has no job correlation: %s", n.RetrievalID, err)
		go metrics.Increment("thawer.correlation.missing")
		return t.cfg.Queue.Delete(m.Queue, m.Receipt)
	}

	status, err := t.cfg.Cold.CheckStatus(ctx, n.RetrievalID)
	if err != nil {
		return err
	}
	switch status {
	case storage.RetrievalFailed:
		// Dead end: the job stays RESTORING until the watchdog returns
		// it to ARCHIVED.
		log.Printf("thawer: retrieval %s for job %s failed", n.RetrievalID, jobID)
		go metrics.Increment("thawer.retrieval.failed")
		return t.cfg.Queue.Delete(m.Queue, m.Receipt)
	case storage.RetrievalSucceeded:
		return t.thaw(ctx, m, &n, jobID, userID)
	default:
		go metrics.Increment("thawer.retrieval.pending")
		return t.cfg.Queue.ChangeVisibility(m.Queue, m.Receipt, t.cfg.RequeueDelay)
	}
}

func (t *Thawer) thaw(ctx context.Context, m *queue.Message, n *models.RetrievalNotification, jobID, userID string) error {
	body, err := t.cfg.Cold.Fetch(ctx, n.RetrievalID)
	if err != nil {
		return err
	}
	resultRef := RestoredKey(jobID)
	if err := t.cfg.Blobs.Upload(ctx, t.cfg.Buckets.Results, resultRef, bytes.NewReader(body)); err != nil {
		return err
	}
	if err := t.cfg.Cold.DeleteArchive(ctx, n.ArchiveID); err != nil {
		return err
	}
	restored, err := t.cfg.Records.MarkRestored(jobID, resultRef)
	if err != nil {
		return err
	}
	if !restored {
		// Duplicate notification after the first already landed. The
		// re-upload above was an idempotent overwrite.
		go metrics.Increment("thawer.cas.lost")
		return t.cfg.Queue.Delete(m.Queue, m.Receipt)
	}
	go metrics.Increment("thawer.job.restored")
	log.Printf("thawer: restored job %s for user %s to %s", jobID, userID, resultRef)
	return t.cfg.Queue.Delete(m.Queue, m.Receipt)
}

// correlate extracts the job and user ids from a notification, preferring
// the structured attributes and falling back to the legacy description
// string.
func correlate(n *models.RetrievalNotification) (jobID, userID string, err error) {
	if n.JobID != "" && n.UserID != "" {
		return n.JobID, n.UserID, nil
	}
	userID, jobID, err = models.ParseJobDescription(n.JobDescription)
	return jobID, userID, err
}
