package annotator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/QixShawnChen/cloud-gene-annotation/test/fakes"
)

func TestCompleterFinishesJob(t *testing.T) {
	records := fakes.NewRecordStore()
	q := fakes.NewQueue()
	q.Subscribe(config.TopicArchive, config.QueueArchive)
	blobs := fakes.NewBlobStore()
	_, err := records.Insert("J1", "U1", "in/J1.vcf", time.Now().UTC())
	test.AssertNotError(t, err, "inserting job")
	ok, err := records.UpdateStatus("J1", models.StatusPending, models.StatusRunning)
	test.AssertNotError(t, err, "claiming job")
	test.Assert(t, ok, "claiming job")

	workdir := filepath.Join(t.TempDir(), "J1")
	test.AssertNotError(t, os.MkdirAll(workdir, 0755), "creating workdir")
	resultPath := filepath.Join(workdir, "J1.annot.vcf")
	logPath := filepath.Join(workdir, "J1.log")
	test.AssertNotError(t, os.WriteFile(resultPath, []byte("annotated"), 0644), "writing result")
	test.AssertNotError(t, os.WriteFile(logPath, []byte("ok"), 0644), "writing log")

	c := &Completer{
		Records: records,
		Queue:   q,
		Blobs:   blobs,
		Buckets: config.Buckets{Inputs: "inputs", Results: "results"},
	}
	err = c.Complete(context.Background(), "J1", "U1", resultPath, logPath)
	test.AssertNotError(t, err, "completing job")

	job, err := records.Get("J1")
	test.AssertNotError(t, err, "fetching job")
	test.AssertEquals(t, job.Status, models.StatusCompleted)
	test.AssertEquals(t, job.ResultRef, ResultKey("U1", "J1"))
	test.AssertEquals(t, job.LogRef, LogKey("U1", "J1"))
	test.Assert(t, job.CompleteTime.Valid, "complete_time should be set")
	test.Assert(t, blobs.Exists("results", job.ResultRef), "result blob should be uploaded")
	test.Assert(t, blobs.Exists("results", job.LogRef), "log blob should be uploaded")

	// Exactly one archival-eligibility notification.
	m, err := q.Receive(context.Background(), config.QueueArchive, 0)
	test.AssertNotError(t, err, "receiving archive message")
	var am models.ArchiveMessage
	test.AssertNotError(t, json.Unmarshal(m.Payload, &am), "unmarshaling archive message")
	test.AssertEquals(t, am.MessageType, models.TypeArchive)
	test.AssertEquals(t, am.JobID, "J1")
	test.AssertEquals(t, am.UserID, "U1")

	if _, err := os.Stat(workdir); !os.IsNotExist(err) {
		t.Errorf("expected workdir %s to be removed", workdir)
	}
}
