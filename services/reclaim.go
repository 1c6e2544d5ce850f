package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/config"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/queue"
)

// ReclaimStuckJobs returns jobs stuck in a transient state to a state a
// worker can act on again. RUNNING jobs whose annotation task died are
// returned to PENDING and get a fresh submission message; RESTORING jobs
// whose retrieval died or failed are returned to ARCHIVED, where a new
// restore request can pick them up.
//
// Reclaims race the workers they are cleaning up after, so every update is
// conditional and a rejected update is skipped silently.
func ReclaimStuckJobs(olderThan time.Duration) error {
	var olderThanTime time.Time
	if olderThan >= 0 {
		olderThanTime = time.Now().Add(-1 * olderThan)
	} else {
		olderThanTime = time.Now().Add(olderThan)
	}
	for from, targets := range models.ReclaimTransitions {
		to := targets[0]
		stuck, err := jobs.GetOldByStatus(from, olderThanTime)
		if err != nil {
			return err
		}
		for _, job := range stuck {
			reclaimed, err := jobs.UpdateStatus(job.ID, from, to)
			if err != nil {
				// Don't give up on the batch; the next sweep will grab it.
				log.Printf("Found stuck job %s but could not reclaim it: %s", job.ID, err)
				continue
			}
			if !reclaimed {
				continue
			}
			log.Printf("Reclaimed stuck job %s (%s to %s)", job.ID, from, to)
			if from == models.StatusRunning {
				if err := resubmit(job); err != nil {
					log.Printf("Could not resubmit reclaimed job %s: %s", job.ID, err)
				}
			}
		}
	}
	return nil
}

func resubmit(job *models.AnnotationJob) error {
	sm := models.SubmissionMessage{
		MessageType: models.TypeSubmission,
		JobID:       job.ID,
		UserID:      job.UserID,
		InputRef:    job.InputRef,
	}
	payload, err := json.Marshal(sm)
	if err != nil {
		return err
	}
	_, err = queue.Publish(config.TopicSubmissions, payload)
	return err
}

// WatchStuckJobs polls for jobs that have sat in RUNNING or RESTORING
// longer than olderThan and reclaims them. Off unless a command starts it.
func WatchStuckJobs(interval time.Duration, olderThan time.Duration) {
	for range time.Tick(interval) {
		go func() {
			err := ReclaimStuckJobs(olderThan)
			if err != nil {
				log.Printf("Error reclaiming stuck jobs: %s\n", err.Error())
			}
		}()
	}
}
