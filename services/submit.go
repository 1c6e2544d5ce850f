// Mediation layer between the server and database queries.
//
// Logic that's not related to validating request input/turning errors into
// HTTP responses should go here.
package services

import (
	"encoding/json"
	"time"

	"github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
)

// SubmitJob creates a PENDING job record and publishes one submission
// message for it. Submitting the same job id twice returns the existing
// record without publishing a second message.
func SubmitJob(jobID, userID, inputRef string) (*models.AnnotationJob, error) {
	start := time.Now()
	job, err := jobs.Insert(jobID, userID, inputRef, time.Now().UTC())
	go metrics.Time("job.insert.latency", time.Since(start))
	if err != nil {
		switch derr := err.(type) {
		case *dberror.Error:
			if derr.Code == dberror.CodeUniqueViolation {
				go metrics.Increment("job.insert.duplicate")
				return jobs.Get(jobID)
			}
		}
		return nil, err
	}
	go metrics.Increment("job.insert.success")

	sm := models.SubmissionMessage{
		MessageType: models.TypeSubmission,
		JobID:       job.ID,
		UserID:      job.UserID,
		InputRef:    job.InputRef,
	}
	payload, err := json.Marshal(sm)
	if err != nil {
		return nil, err
	}
	if _, err := queue.Publish(config.TopicSubmissions, payload); err != nil {
		return nil, err
	}
	return job, nil
}

// RequestRestore publishes one restore request for the user's archived
// jobs. The restore worker picks it up asynchronously.
func RequestRestore(userID string) error {
	rm := models.RestoreMessage{
		MessageType: models.TypeRestore,
		UserID:      userID,
	}
	payload, err := json.Marshal(rm)
	if err != nil {
		return err
	}
	_, err = queue.Publish(config.TopicRestore, payload)
	if err == nil {
		go metrics.Increment("restore.request.published")
	}
	return err
}
