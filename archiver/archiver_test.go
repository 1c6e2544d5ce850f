package archiver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/profiles"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/QixShawnChen/cloud-gene-annotation/test/fakes"
)

type harness struct {
	records  *fakes.RecordStore
	queue    *fakes.Queue
	blobs    *fakes.BlobStore
	cold     *fakes.ColdStore
	profiles *fakes.ProfileDirectory
}

func newHarness(t *testing.T) (*Archiver, *harness) {
	t.Helper()
	h := &harness{
		records:  fakes.NewRecordStore(),
		queue:    fakes.NewQueue(),
		blobs:    fakes.NewBlobStore(),
		cold:     fakes.NewColdStore(),
		profiles: fakes.NewProfileDirectory(),
	}
	a := New(Config{
		Records:  h.records,
		Queue:    h.queue,
		Blobs:    h.blobs,
		Cold:     h.cold,
		Profiles: h.profiles,
		Buckets:  config.Buckets{Inputs: "inputs", Results: "results"},
		Wait:     time.Millisecond,
	})
	return a, h
}

func completedJob(t *testing.T, h *harness, jobID, userID string) *models.AnnotationJob {
	t.Helper()
	_, err := h.records.Insert(jobID, userID, "in/"+jobID+".vcf", time.Now().UTC())
	test.AssertNotError(t, err, "inserting job")
	ok, err := h.records.UpdateStatus(jobID, models.StatusPending, models.StatusRunning)
	test.AssertNotError(t, err, "claiming job")
	test.Assert(t, ok, "claiming job")
	resultRef := userID + "/" + jobID + "/result.vcf"
	err = h.records.Complete(jobID, resultRef, userID+"/"+jobID+"/job.log", time.Now().UTC())
	test.AssertNotError(t, err, "completing job")
	err = h.blobs.Upload(context.Background(), "results", resultRef, strings.NewReader("annotated"))
	test.AssertNotError(t, err, "uploading result")
	job, err := h.records.Get(jobID)
	test.AssertNotError(t, err, "fetching job")
	return job
}

func sendArchiveMessage(t *testing.T, h *harness, jobID, userID string) {
	t.Helper()
	payload, err := json.Marshal(models.ArchiveMessage{
		MessageType: models.TypeArchive,
		JobID:       jobID,
		UserID:      userID,
	})
	test.AssertNotError(t, err, "marshaling message")
	h.queue.Send(config.QueueArchive, payload)
}

func TestPollArchivesStandardTierJob(t *testing.T) {
	a, h := newHarness(t)
	job := completedJob(t, h, "J1", "U1")
	sendArchiveMessage(t, h, "J1", "U1")

	err := a.Poll(context.Background())
	test.AssertNotError(t, err, "polling")

	got, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusArchived)
	test.Assert(t, got.ArchiveID != "", "archive_id should be recorded")
	test.AssertEquals(t, got.ResultRef, "")
	test.Assert(t, !h.blobs.Exists("results", job.ResultRef), "hot result should be deleted")
	test.Assert(t, h.cold.HasArchive(got.ArchiveID), "cold archive should exist")
	test.AssertEquals(t, h.queue.InflightCount(), 0)
}

func TestPollSkipsPremiumTier(t *testing.T) {
	a, h := newHarness(t)
	job := completedJob(t, h, "J1", "U1")
	h.profiles.SetTier("U1", profiles.TierPremium)
	sendArchiveMessage(t, h, "J1", "U1")

	err := a.Poll(context.Background())
	test.AssertNotError(t, err, "polling")

	// Acknowledged with no record mutation and no cold-tier call.
	got, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusCompleted)
	test.AssertEquals(t, got.ResultRef, job.ResultRef)
	test.AssertEquals(t, h.cold.ArchiveCount(), 0)
	test.AssertEquals(t, h.queue.Depth(config.QueueArchive), 0)
	test.AssertEquals(t, h.queue.InflightCount(), 0)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	a, h := newHarness(t)
	completedJob(t, h, "J1", "U1")
	sendArchiveMessage(t, h, "J1", "U1")
	sendArchiveMessage(t, h, "J1", "U1")

	test.AssertNotError(t, a.Poll(context.Background()), "first poll")
	first, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")

	test.AssertNotError(t, a.Poll(context.Background()), "second poll")
	second, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")

	// The second delivery found the job already ARCHIVED and changed
	// nothing.
	test.AssertEquals(t, *second, *first)
	test.AssertEquals(t, h.cold.ArchiveCount(), 1)
	test.AssertEquals(t, h.queue.Depth(config.QueueArchive), 0)
	test.AssertEquals(t, h.queue.InflightCount(), 0)
}

func TestConcurrentArchiversExactlyOneWins(t *testing.T) {
	_, h := newHarness(t)
	completedJob(t, h, "J1", "U1")

	// Race the conditional update directly: exactly one caller moves the
	// job to ARCHIVED.
	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			archiveID := "archive-race"
			ok, err := h.records.Archive("J1", models.StatusCompleted, archiveID)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins <- archiveID
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	test.AssertEquals(t, count, 1)

	got, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusArchived)
}

func TestPollDropsUnknownJob(t *testing.T) {
	a, h := newHarness(t)
	sendArchiveMessage(t, h, "ghost", "U1")

	err := a.Poll(context.Background())
	test.AssertNotError(t, err, "polling")
	test.AssertEquals(t, h.queue.Depth(config.QueueArchive), 0)
	test.AssertEquals(t, h.queue.InflightCount(), 0)
	test.AssertEquals(t, h.cold.ArchiveCount(), 0)
}

func TestReArchiveRestoredJob(t *testing.T) {
	_, h := newHarness(t)
	a := New(Config{
		Records:           h.records,
		Queue:             h.queue,
		Blobs:             h.blobs,
		Cold:              h.cold,
		Profiles:          h.profiles,
		Buckets:           config.Buckets{Inputs: "inputs", Results: "results"},
		ReArchiveRestored: true,
		Wait:              time.Millisecond,
	})
	h.records.Put(&models.AnnotationJob{
		ID:         "J1",
		UserID:     "U1",
		Status:     models.StatusRestored,
		SubmitTime: time.Now().UTC(),
		InputRef:   "in/J1.vcf",
		ResultRef:  "restored/J1",
	})
	err := h.blobs.Upload(context.Background(), "results", "restored/J1", strings.NewReader("annotated"))
	test.AssertNotError(t, err, "uploading result")
	sendArchiveMessage(t, h, "J1", "U1")

	test.AssertNotError(t, a.Poll(context.Background()), "polling")

	got, err := h.records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusArchived)
	test.Assert(t, got.ArchiveID != "", "archive_id should be recorded")
	test.AssertEquals(t, got.ResultRef, "")
}
