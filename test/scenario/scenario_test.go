// End-to-end lifecycle coverage on the in-memory doubles: one job walked
// from submission through annotation, archival, restore, and thaw, plus a
// chaos run that re-plays every message to check that duplicate delivery
// never corrupts a record.
package scenario

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/annotator"
	"github.com/QixShawnChen/cloud-gene-annotation/archiver"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/restorer"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/QixShawnChen/cloud-gene-annotation/test/factory"
	"github.com/QixShawnChen/cloud-gene-annotation/test/fakes"
	"github.com/QixShawnChen/cloud-gene-annotation/thawer"
)

var buckets = config.Buckets{Inputs: "inputs", Results: "results"}

func bytesReader(s string) io.Reader {
	return strings.NewReader(s)
}

// world wires every worker to one set of in-memory doubles.
type world struct {
	records *fakes.RecordStore
	queue   *fakes.Queue
	blobs   *fakes.BlobStore
	cold    *fakes.ColdStore
	tiers   *fakes.ProfileDirectory

	annotator *annotator.Annotator
	archiver  *archiver.Archiver
	restorer  *restorer.Restorer
	thawer    *thawer.Thawer
}

// completingLauncher stands in for the annotation task process: it writes
// a result and a log next to the staged input and finishes the job through
// the same Completer the real task uses.
type completingLauncher struct {
	completer *annotator.Completer
}

func (l *completingLauncher) Launch(ctx context.Context, msg *models.SubmissionMessage, inputPath string) error {
	workdir := filepath.Dir(inputPath)
	resultPath := filepath.Join(workdir, msg.JobID+".annot.vcf")
	logPath := filepath.Join(workdir, msg.JobID+".log")
	if err := os.WriteFile(resultPath, []byte("annotated "+msg.JobID), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(logPath, []byte("log "+msg.JobID), 0644); err != nil {
		return err
	}
	return l.completer.Complete(ctx, msg.JobID, msg.UserID, resultPath, logPath)
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		records: fakes.NewRecordStore(),
		queue:   fakes.NewQueue(),
		blobs:   fakes.NewBlobStore(),
		cold:    fakes.NewColdStore(),
		tiers:   fakes.NewProfileDirectory(),
	}
	w.queue.Subscribe(config.TopicSubmissions, config.QueueSubmissions)
	w.queue.Subscribe(config.TopicArchive, config.QueueArchive)
	w.queue.Subscribe(config.TopicRestore, config.QueueRestore)
	w.queue.Subscribe(config.TopicRetrieval, config.QueueThaw)

	launcher := &completingLauncher{
		completer: &annotator.Completer{
			Records: w.records,
			Queue:   w.queue,
			Blobs:   w.blobs,
			Buckets: buckets,
		},
	}
	w.annotator = annotator.New(annotator.Config{
		Records:  w.records,
		Queue:    w.queue,
		Blobs:    w.blobs,
		Launcher: launcher,
		Buckets:  buckets,
		WorkDir:  t.TempDir(),
		Wait:     time.Millisecond,
	})
	w.archiver = archiver.New(archiver.Config{
		Records:  w.records,
		Queue:    w.queue,
		Blobs:    w.blobs,
		Cold:     w.cold,
		Profiles: w.tiers,
		Buckets:  buckets,
		Wait:     time.Millisecond,
	})
	w.restorer = restorer.New(restorer.Config{
		Records:          w.records,
		Queue:            w.queue,
		Cold:             w.cold,
		Wait:             time.Millisecond,
		InitiateAttempts: 1,
		InitiateBackoff:  time.Millisecond,
	})
	w.thawer = thawer.New(thawer.Config{
		Records: w.records,
		Queue:   w.queue,
		Blobs:   w.blobs,
		Cold:    w.cold,
		Buckets: buckets,
		Wait:    time.Millisecond,
	})
	return w
}

// submit creates a PENDING record with its input staged in hot storage and
// publishes the submission message, the same way the API server does.
func (w *world) submit(t *testing.T, jobID, userID string) {
	t.Helper()
	_, err := w.records.Insert(jobID, userID, factory.InputRef, time.Now().UTC())
	test.AssertNotError(t, err, "inserting job")
	err = w.blobs.Upload(context.Background(), buckets.Inputs, factory.InputRef,
		bytesReader("raw variants"))
	test.AssertNotError(t, err, "staging input")
	_, err = w.queue.Publish(config.TopicSubmissions, factory.SubmissionPayload(t, &models.AnnotationJob{
		ID:       jobID,
		UserID:   userID,
		InputRef: factory.InputRef,
	}))
	test.AssertNotError(t, err, "publishing submission")
}

// retrievalFor finds the retrieval the restorer initiated for a job.
func (w *world) retrievalFor(t *testing.T, jobID string) string {
	t.Helper()
	for id, corr := range w.cold.Correlations {
		if corr.JobID == jobID {
			return id
		}
	}
	t.Fatalf("no retrieval initiated for job %s", jobID)
	return ""
}

func (w *world) status(t *testing.T, jobID string) models.JobStatus {
	t.Helper()
	job, err := w.records.Get(jobID)
	test.AssertNotError(t, err, "fetching job")
	return job.Status
}

func TestJobLifecycleRoundTrip(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.submit(t, "J1", "U1")

	// Annotation: the launcher completes the job inline.
	test.AssertNotError(t, w.annotator.Poll(ctx), "annotator poll")
	job, err := w.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, job.Status, models.StatusCompleted)
	test.AssertEquals(t, job.ResultRef, annotator.ResultKey("U1", "J1"))
	test.Assert(t, w.blobs.Exists(buckets.Results, job.ResultRef), "expected a result blob")
	test.Assert(t, job.CompleteTime.Valid, "expected a completion time")

	// Archival: the result moves to the cold tier and the hot copy goes.
	hotRef := job.ResultRef
	test.AssertNotError(t, w.archiver.Poll(ctx), "archiver poll")
	job, err = w.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, job.Status, models.StatusArchived)
	test.AssertEquals(t, job.ResultRef, "")
	test.Assert(t, job.ArchiveID != "", "expected an archive id")
	test.Assert(t, !w.blobs.Exists(buckets.Results, hotRef), "expected the hot result to be deleted")
	test.AssertEquals(t, w.cold.ArchiveCount(), 1)
	archiveID := job.ArchiveID

	// Restore request: retrieval starts and the job goes RESTORING.
	_, err = w.queue.Publish(config.TopicRestore, factory.RestorePayload(t, "U1"))
	test.AssertNotError(t, err, "publishing restore request")
	test.AssertNotError(t, w.restorer.Poll(ctx), "restorer poll")
	test.AssertEquals(t, w.status(t, "J1"), models.StatusRestoring)
	retrievalID := w.retrievalFor(t, "J1")

	// Thaw: the retrieval notification lands and the result comes back hot.
	w.queue.Send(config.QueueThaw, factory.RetrievalPayload(t, retrievalID, archiveID, "J1", "U1"))
	test.AssertNotError(t, w.thawer.Poll(ctx), "thawer poll")
	job, err = w.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, job.Status, models.StatusRestored)
	test.AssertEquals(t, job.ResultRef, "restored/J1")
	test.AssertEquals(t, job.ArchiveID, "")
	test.Assert(t, w.blobs.Exists(buckets.Results, "restored/J1"), "expected the restored blob")
	test.AssertEquals(t, w.cold.ArchiveCount(), 0)

	// All queues drained.
	for _, name := range []string{config.QueueSubmissions, config.QueueArchive,
		config.QueueRestore, config.QueueThaw} {
		test.AssertEquals(t, w.queue.Depth(name), 0)
	}
	test.AssertEquals(t, w.queue.InflightCount(), 0)
}

// TestDuplicatedDeliveriesConvergeAnyway re-plays every stage's message
// and polls the workers in a random interleaving. However the duplicates
// land, the record must end in a legal state with its cross-field
// invariants intact and exactly one copy of the result.
func TestDuplicatedDeliveriesConvergeAnyway(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		w := newWorld(t)
		ctx := context.Background()
		w.submit(t, "J1", "U1")
		// A second copy of the submission, as if the publisher retried.
		w.queue.Send(config.QueueSubmissions, factory.SubmissionPayload(t, &models.AnnotationJob{
			ID: "J1", UserID: "U1", InputRef: factory.InputRef,
		}))

		restoreRequested := false
		thawNotified := false
		polls := []func(context.Context) error{
			w.annotator.Poll,
			w.archiver.Poll,
			w.restorer.Poll,
			w.thawer.Poll,
		}
		for step := 0; step < 60; step++ {
			// Inject the external messages once their stage is reachable.
			if !restoreRequested && w.status(t, "J1") == models.StatusArchived {
				payload := factory.RestorePayload(t, "U1")
				w.queue.Send(config.QueueRestore, payload)
				w.queue.Send(config.QueueRestore, payload)
				restoreRequested = true
			}
			if !thawNotified && w.status(t, "J1") == models.StatusRestoring {
				job, err := w.records.Get("J1")
				test.AssertNotError(t, err, "fetching job")
				payload := factory.RetrievalPayload(t, w.retrievalFor(t, "J1"), job.ArchiveID, "J1", "U1")
				w.queue.Send(config.QueueThaw, payload)
				w.queue.Send(config.QueueThaw, payload)
				thawNotified = true
			}
			poll := polls[rng.Intn(len(polls))]
			if err := poll(ctx); err != nil && err != queue.ErrNoMessages {
				t.Fatalf("round %d step %d: %s", round, step, err)
			}
			// Occasionally lapse every reservation, as if a consumer died
			// mid-message.
			if rng.Intn(10) == 0 {
				w.queue.Redeliver()
			}
		}

		job, err := w.records.Get("J1")
		test.AssertNotError(t, err, "fetching job")
		legal := false
		for _, s := range models.AllStatuses {
			if job.Status == s {
				legal = true
			}
		}
		test.Assert(t, legal, "job ended in an unknown status")
		if job.Status == models.StatusArchived || job.Status == models.StatusRestoring {
			test.Assert(t, job.ArchiveID != "", "archived job lost its archive id")
		} else {
			test.AssertEquals(t, job.ArchiveID, "")
		}
		if job.Status == models.StatusArchived {
			test.AssertEquals(t, job.ResultRef, "")
		}
		if job.Status == models.StatusRestored {
			test.AssertEquals(t, job.ResultRef, "restored/J1")
			test.Assert(t, w.blobs.Exists(buckets.Results, "restored/J1"), "restored blob missing")
		}
		// However many times the archive message was re-played, there is
		// at most one live archive.
		test.Assert(t, w.cold.ArchiveCount() <= 1, "duplicate archives accumulated")
	}
}
