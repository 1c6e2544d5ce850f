package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/rest"
)

// GET /v1/jobs/:id
//
// Fetch a single job record. Returns the record or a 404 Not Found error.
func getJob() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID := getJobRoute.FindStringSubmatch(r.URL.Path)[1]
		job, err := jobs.Get(jobID)
		if err == jobs.ErrNotFound {
			notFound(w, new404(r))
			go metrics.Increment("job.get.not_found")
			return
		}
		if err != nil {
			writeServerError(w, r, err)
			go metrics.Increment("job.get.error")
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(job)
		go metrics.Increment("job.get.success")
	})
}

// GET /v1/users/:id/jobs?status=ARCHIVED
//
// List a user's jobs, newest first, optionally filtered by status.
func getUserJobs() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userJobsRoute.FindStringSubmatch(r.URL.Path)[1]
		status := models.JobStatus(r.URL.Query().Get("status"))
		if status != "" && !validStatus(status) {
			badRequest(w, r, &rest.Error{
				ID:       "invalid_status",
				Title:    fmt.Sprintf("Invalid job status: %s", status),
				Instance: r.URL.Path,
			})
			return
		}
		userJobs, err := jobs.GetByUser(userID, status)
		if err != nil {
			writeServerError(w, r, err)
			go metrics.Increment("job.list.error")
			return
		}
		if userJobs == nil {
			userJobs = []*models.AnnotationJob{}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(userJobs)
		go metrics.Increment("job.list.success")
	})
}

func validStatus(status models.JobStatus) bool {
	for _, s := range models.AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}
