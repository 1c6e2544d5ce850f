// Logic for interacting with the "annotation_jobs" table.
package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	dberror "github.com/Shyp/go-dberror"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/db"
)

// ErrNotFound indicates that the job record was not found.
var ErrNotFound = errors.New("Job record not found")

var insertStmt *sql.Stmt
var getStmt *sql.Stmt
var byUserStmt *sql.Stmt
var byUserStatusStmt *sql.Stmt
var updateStatusStmt *sql.Stmt
var completeStmt *sql.Stmt
var archiveStmt *sql.Stmt
var restoringStmt *sql.Stmt
var restoredStmt *sql.Stmt
var oldByStatusStmt *sql.Stmt
var countsByStatusStmt *sql.Stmt

// StuckJobLimit is the maximum number of stuck jobs to fetch in one database
// query.
var StuckJobLimit = 100

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if insertStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- jobs.Insert
INSERT INTO annotation_jobs (job_id, user_id, status, submit_time, input_ref)
VALUES ($1, $2, '%s', $3, $4)
RETURNING %s`, models.StatusPending, fields())
	insertStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Get
SELECT %s
FROM annotation_jobs
WHERE job_id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetByUser
SELECT %s
FROM annotation_jobs
WHERE user_id = $1
ORDER BY submit_time DESC`, fields())
	byUserStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetByUser (status filter)
SELECT %s
FROM annotation_jobs
WHERE user_id = $1
	AND status = $2
ORDER BY submit_time DESC`, fields())
	byUserStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- jobs.UpdateStatus
UPDATE annotation_jobs
SET status = $3,
	updated_at = now()
WHERE job_id = $1
	AND status = $2`
	updateStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Complete
UPDATE annotation_jobs
SET status = '%s',
	result_ref = $2,
	log_ref = $3,
	complete_time = $4,
	updated_at = now()
WHERE job_id = $1`, models.StatusCompleted)
	completeStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Archive
UPDATE annotation_jobs
SET status = '%s',
	archive_id = $3,
	result_ref = NULL,
	updated_at = now()
WHERE job_id = $1
	AND status = $2`, models.StatusArchived)
	archiveStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.MarkRestoring
UPDATE annotation_jobs
SET status = '%s',
	updated_at = now()
WHERE job_id = $1
	AND status = '%s'`, models.StatusRestoring, models.StatusArchived)
	restoringStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.MarkRestored
UPDATE annotation_jobs
SET status = '%s',
	result_ref = $2,
	archive_id = NULL,
	updated_at = now()
WHERE job_id = $1
	AND status = '%s'`, models.StatusRestored, models.StatusRestoring)
	restoredStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetOldByStatus
SELECT %s FROM annotation_jobs WHERE status = $1 AND updated_at < $2 LIMIT %d`,
		fields(), StuckJobLimit)
	oldByStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- jobs.GetCountsByStatus
SELECT status, count(*) FROM annotation_jobs GROUP BY status`
	countsByStatusStmt, err = db.Conn.Prepare(query)
	return
}

// Insert creates a new PENDING job record. A dberror.Error is returned if
// Postgres reports a constraint failure - duplicate job_id, missing input
// location, &c.
func Insert(jobID, userID, inputRef string, submitTime time.Time) (*models.AnnotationJob, error) {
	j := new(models.AnnotationJob)
	err := insertStmt.QueryRow(jobID, userID, submitTime, inputRef).Scan(args(j)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return j, nil
}

// Get the job record with the given id. If no record could be found, the
// error will be jobs.ErrNotFound.
func Get(jobID string) (*models.AnnotationJob, error) {
	if jobID == "" {
		return nil, errors.New("Invalid job id")
	}
	j := new(models.AnnotationJob)
	err := getStmt.QueryRow(jobID).Scan(args(j)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return j, nil
}

// GetByUser returns the user's job records, newest first. Pass an empty
// status to return jobs regardless of status.
func GetByUser(userID string, status models.JobStatus) ([]*models.AnnotationJob, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = byUserStmt.Query(userID)
	} else {
		rows, err = byUserStatusStmt.Query(userID, status)
	}
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateStatus performs the conditional transition expected -> next for the
// given job. It returns false with a nil error when the stored status did
// not match expected - the caller lost a race or is handling a duplicate
// delivery, and should treat the result as a no-op success.
func UpdateStatus(jobID string, expected, next models.JobStatus) (bool, error) {
	res, err := updateStatusStmt.Exec(jobID, expected, next)
	if err != nil {
		return false, dberror.GetError(err)
	}
	return affectedOne(res)
}

// Complete records the result and log locations and the completion time,
// and moves the job to COMPLETED. The update is unconditional: the
// annotation task is the sole writer once a job is RUNNING.
func Complete(jobID, resultRef, logRef string, completeTime time.Time) error {
	res, err := completeStmt.Exec(jobID, resultRef, logRef, completeTime)
	if err != nil {
		return dberror.GetError(err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Archive conditionally transitions expected -> ARCHIVED, atomically
// recording the cold-tier archive id and clearing the result location.
// Returns false when the stored status did not match expected.
func Archive(jobID string, expected models.JobStatus, archiveID string) (bool, error) {
	res, err := archiveStmt.Exec(jobID, expected, archiveID)
	if err != nil {
		return false, dberror.GetError(err)
	}
	return affectedOne(res)
}

// MarkRestoring conditionally transitions ARCHIVED -> RESTORING.
func MarkRestoring(jobID string) (bool, error) {
	res, err := restoringStmt.Exec(jobID)
	if err != nil {
		return false, dberror.GetError(err)
	}
	return affectedOne(res)
}

// MarkRestored conditionally transitions RESTORING -> RESTORED, atomically
// re-populating the result location and clearing the archive id.
func MarkRestored(jobID, resultRef string) (bool, error) {
	res, err := restoredStmt.Exec(jobID, resultRef)
	if err != nil {
		return false, dberror.GetError(err)
	}
	return affectedOne(res)
}

// GetOldByStatus finds jobs in the given status whose updated_at timestamp
// is older than olderThan. A maximum of StuckJobLimit jobs will be
// returned.
func GetOldByStatus(status models.JobStatus, olderThan time.Time) ([]*models.AnnotationJob, error) {
	rows, err := oldByStatusStmt.Query(status, olderThan)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetCountsByStatus returns the number of job records per status.
func GetCountsByStatus() (map[models.JobStatus]int64, error) {
	rows, err := countsByStatusStmt.Query()
	m := make(map[models.JobStatus]int64)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return m, err
		}
		m[status] = count
	}
	err = rows.Err()
	return m, err
}

func scanJobs(rows *sql.Rows) ([]*models.AnnotationJob, error) {
	var jobs []*models.AnnotationJob
	for rows.Next() {
		j := new(models.AnnotationJob)
		if err := rows.Scan(args(j)...); err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	err := rows.Err()
	return jobs, err
}

func affectedOne(res sql.Result) (bool, error) {
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if count > 1 {
		// Should not be possible because job_id is the primary key
		return false, fmt.Errorf("Multiple rows (%d) updated for one job, please investigate", count)
	}
	return count == 1, nil
}

func fields() string {
	return `job_id,
	user_id,
	status,
	submit_time,
	complete_time,
	input_ref,
	COALESCE(result_ref, ''),
	COALESCE(log_ref, ''),
	COALESCE(archive_id, '')`
}

func args(j *models.AnnotationJob) []interface{} {
	return []interface{}{
		&j.ID,
		&j.UserID,
		&j.Status,
		&j.SubmitTime,
		&j.CompleteTime,
		&j.InputRef,
		&j.ResultRef,
		&j.LogRef,
		&j.ArchiveID,
	}
}
