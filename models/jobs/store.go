package jobs

import (
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/models"
)

// Store adapts the package-level query functions to the record store
// interfaces the workers accept. The zero value is ready to use once
// Setup has run.
type Store struct{}

func (Store) Insert(jobID, userID, inputRef string, submitTime time.Time) (*models.AnnotationJob, error) {
	return Insert(jobID, userID, inputRef, submitTime)
}

func (Store) Get(jobID string) (*models.AnnotationJob, error) {
	return Get(jobID)
}

func (Store) GetByUser(userID string, status models.JobStatus) ([]*models.AnnotationJob, error) {
	return GetByUser(userID, status)
}

func (Store) UpdateStatus(jobID string, expected, next models.JobStatus) (bool, error) {
	return UpdateStatus(jobID, expected, next)
}

func (Store) Complete(jobID, resultRef, logRef string, completeTime time.Time) error {
	return Complete(jobID, resultRef, logRef, completeTime)
}

func (Store) Archive(jobID string, expected models.JobStatus, archiveID string) (bool, error) {
	return Archive(jobID, expected, archiveID)
}

func (Store) MarkRestoring(jobID string) (bool, error) {
	return MarkRestoring(jobID)
}

func (Store) MarkRestored(jobID, resultRef string) (bool, error) {
	return MarkRestored(jobID, resultRef)
}

func (Store) GetOldByStatus(status models.JobStatus, olderThan time.Time) ([]*models.AnnotationJob, error) {
	return GetOldByStatus(status, olderThan)
}
