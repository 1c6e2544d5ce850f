package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	types "github.com/Shyp/go-types"
)

type JobStatus string

// The job lifecycle. A record is created PENDING and moves strictly along
// the edges in Transitions; every move is a conditional update gated on the
// expected prior status.
const (
	StatusPending   = JobStatus("PENDING")
	StatusRunning   = JobStatus("RUNNING")
	StatusCompleted = JobStatus("COMPLETED")
	StatusArchived  = JobStatus("ARCHIVED")
	StatusRestoring = JobStatus("RESTORING")
	StatusRestored  = JobStatus("RESTORED")
)

// AllStatuses lists every status a job record may hold.
var AllStatuses = []JobStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusArchived,
	StatusRestoring,
	StatusRestored,
}

// Transitions holds the forward edges of the lifecycle. RESTORED may
// re-enter ARCHIVED when the owner drops back to the standard tier.
var Transitions = map[JobStatus][]JobStatus{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {StatusRestoring},
	StatusRestoring: {StatusRestored},
	StatusRestored:  {StatusArchived},
}

// ReclaimTransitions holds the extra edges the stuck-job watchdog may take
// when a lease expires. They are disabled unless the watchdog runs.
var ReclaimTransitions = map[JobStatus][]JobStatus{
	StatusRunning:   {StatusPending},
	StatusRestoring: {StatusArchived},
}

// ValidTransition reports whether from -> to is a declared lifecycle edge.
func ValidTransition(from, to JobStatus) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidReclaim reports whether from -> to is a watchdog reclaim edge.
func ValidReclaim(from, to JobStatus) bool {
	for _, next := range ReclaimTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Scan implements the Scanner interface.
func (j *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*j = JobStatus(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*j = JobStatus(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported JobStatus: %#v", src)
}

func (j JobStatus) Value() (driver.Value, error) {
	return string(j), nil
}

// An AnnotationJob is the single source of truth for one job's lifecycle.
// ID and UserID are immutable after creation. ResultRef is empty exactly
// while the job is ARCHIVED; ArchiveID is set exactly while the job is
// ARCHIVED or RESTORING. Records are never deleted - archival removes the
// result blob, not the record.
type AnnotationJob struct {
	ID           string         `json:"job_id"`
	UserID       string         `json:"user_id"`
	Status       JobStatus      `json:"status"`
	SubmitTime   time.Time      `json:"submit_time"`
	CompleteTime types.NullTime `json:"complete_time"`
	InputRef     string         `json:"input_ref"`
	ResultRef    string         `json:"result_ref,omitempty"`
	LogRef       string         `json:"log_ref,omitempty"`
	ArchiveID    string         `json:"archive_id,omitempty"`
}
