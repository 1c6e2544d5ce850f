// Package factory contains helpers for instantiating tests.
package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/nu7hatch/gouuid"
)

const UserID = "usr_f8c9e2d1"
const InputRef = "in/sample.vcf"

// RandomId returns a random id with the given prefix.
func RandomId(prefix string) string {
	id, err := uuid.NewV4()
	if err != nil {
		panic(err.Error())
	}
	return prefix + id.String()
}

// CreatePendingJob inserts a PENDING job record for UserID.
func CreatePendingJob(t *testing.T) *models.AnnotationJob {
	t.Helper()
	job, err := jobs.Insert(RandomId("job_"), UserID, InputRef, time.Now().UTC())
	test.AssertNotError(t, err, "inserting job")
	return job
}

// CreateCompletedJob inserts a job record and walks it to COMPLETED.
func CreateCompletedJob(t *testing.T) *models.AnnotationJob {
	t.Helper()
	job := CreatePendingJob(t)
	ok, err := jobs.UpdateStatus(job.ID, models.StatusPending, models.StatusRunning)
	test.AssertNotError(t, err, "claiming job")
	test.Assert(t, ok, "claiming job")
	err = jobs.Complete(job.ID, "results/"+job.ID, "logs/"+job.ID, time.Now().UTC())
	test.AssertNotError(t, err, "completing job")
	job, err = jobs.Get(job.ID)
	test.AssertNotError(t, err, "fetching job")
	return job
}

// CreateArchivedJob inserts a job record and walks it to ARCHIVED.
func CreateArchivedJob(t *testing.T) *models.AnnotationJob {
	t.Helper()
	job := CreateCompletedJob(t)
	ok, err := jobs.Archive(job.ID, models.StatusCompleted, RandomId("archive-"))
	test.AssertNotError(t, err, "archiving job")
	test.Assert(t, ok, "archiving job")
	job, err = jobs.Get(job.ID)
	test.AssertNotError(t, err, "fetching job")
	return job
}

// SubmissionPayload marshals a submission message for the given job.
func SubmissionPayload(t *testing.T, job *models.AnnotationJob) []byte {
	t.Helper()
	payload, err := json.Marshal(models.SubmissionMessage{
		MessageType: models.TypeSubmission,
		JobID:       job.ID,
		UserID:      job.UserID,
		InputRef:    job.InputRef,
	})
	test.AssertNotError(t, err, "marshaling submission message")
	return payload
}

// ArchivePayload marshals an archival-eligibility message for the given
// job.
func ArchivePayload(t *testing.T, job *models.AnnotationJob) []byte {
	t.Helper()
	payload, err := json.Marshal(models.ArchiveMessage{
		MessageType: models.TypeArchive,
		JobID:       job.ID,
		UserID:      job.UserID,
	})
	test.AssertNotError(t, err, "marshaling archive message")
	return payload
}

// RestorePayload marshals a restore request for the given user.
func RestorePayload(t *testing.T, userID string) []byte {
	t.Helper()
	payload, err := json.Marshal(models.RestoreMessage{
		MessageType: models.TypeRestore,
		UserID:      userID,
	})
	test.AssertNotError(t, err, "marshaling restore message")
	return payload
}

// RetrievalPayload marshals a retrieval-completion notification.
func RetrievalPayload(t *testing.T, retrievalID, archiveID, jobID, userID string) []byte {
	t.Helper()
	payload, err := json.Marshal(models.RetrievalNotification{
		Action:      models.ActionArchiveRetrieval,
		StatusCode:  "Succeeded",
		RetrievalID: retrievalID,
		ArchiveID:   archiveID,
		JobID:       jobID,
		UserID:      userID,
	})
	test.AssertNotError(t, err, "marshaling retrieval notification")
	return payload
}
