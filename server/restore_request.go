package server

import (
	"encoding/json"
	"net/http"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
	"github.com/QixShawnChen/cloud-gene-annotation/models/jobs"
	"github.com/QixShawnChen/cloud-gene-annotation/services"
)

// POST /v1/users/:id/restore
//
// Request restoration of all of the user's archived jobs. The work happens
// asynchronously; the response reports how many jobs were archived at the
// time of the request.
func restoreHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := restoreRoute.FindStringSubmatch(r.URL.Path)[1]
		archived, err := jobs.GetByUser(userID, models.StatusArchived)
		if err != nil {
			writeServerError(w, r, err)
			go metrics.Increment("restore.request.error")
			return
		}
		if err := services.RequestRestore(userID); err != nil {
			writeServerError(w, r, err)
			go metrics.Increment("restore.request.error")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user_id":       userID,
			"archived_jobs": len(archived),
		})
		go metrics.Increment("restore.request.accepted")
	})
}
