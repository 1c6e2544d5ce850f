package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/db"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/services"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/QixShawnChen/cloud-gene-annotation/test/factory"
)

func TestReclaimReturnsRunningJobToPending(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	test.AssertNotError(t, queue.Subscribe(config.TopicSubmissions, config.QueueSubmissions), "subscribing")

	job := factory.CreatePendingJob(t)
	ok, err := jobs.UpdateStatus(job.ID, models.StatusPending, models.StatusRunning)
	test.AssertNotError(t, err, "claiming job")
	test.Assert(t, ok, "claiming job")

	backdate(t, job.ID)
	test.AssertNotError(t, services.ReclaimStuckJobs(30*time.Minute), "reclaiming")

	got, err := jobs.Get(job.ID)
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusPending)

	m, err := queue.Receive(context.Background(), config.QueueSubmissions, time.Second)
	test.AssertNotError(t, err, "receiving resubmission")
	var sm models.SubmissionMessage
	test.AssertNotError(t, json.Unmarshal(m.Payload, &sm), "unmarshaling")
	test.AssertEquals(t, sm.JobID, job.ID)
	test.AssertEquals(t, sm.InputRef, job.InputRef)
}

func TestReclaimReturnsRestoringJobToArchived(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	job := factory.CreateArchivedJob(t)
	ok, err := jobs.MarkRestoring(job.ID)
	test.AssertNotError(t, err, "marking restoring")
	test.Assert(t, ok, "marking restoring")

	backdate(t, job.ID)
	test.AssertNotError(t, services.ReclaimStuckJobs(30*time.Minute), "reclaiming")

	got, err := jobs.Get(job.ID)
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusArchived)
	test.AssertEquals(t, got.ArchiveID, job.ArchiveID)

	depths, err := queue.Depths()
	test.AssertNotError(t, err, "fetching depths")
	test.AssertEquals(t, depths[config.QueueSubmissions], int64(0))
}

func TestReclaimLeavesFreshJobsAlone(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	job := factory.CreatePendingJob(t)
	ok, err := jobs.UpdateStatus(job.ID, models.StatusPending, models.StatusRunning)
	test.AssertNotError(t, err, "claiming job")
	test.Assert(t, ok, "claiming job")

	test.AssertNotError(t, services.ReclaimStuckJobs(time.Hour), "reclaiming")

	got, err := jobs.Get(job.ID)
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, got.Status, models.StatusRunning)
}

// backdate ages a job record past any reclaim threshold used in these
// tests.
func backdate(t *testing.T, jobID string) {
	t.Helper()
	_, err := db.Conn.Exec(
		"UPDATE annotation_jobs SET updated_at = now() - interval '1 hour' WHERE job_id = $1",
		jobID)
	test.AssertNotError(t, err, "backdating job")
}
