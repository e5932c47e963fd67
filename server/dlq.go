package server

import (
	"encoding/json"
	"net/http"

	"github.com/Pingpayio/ping-subscription-service/models/deadletter"
	"github.com/Pingpayio/ping-subscription-service/services"
)

// GET /dlq
//
// List every job currently parked in the dead-letter lane, newest first.
func listDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	all, err := deadletter.GetAllJobs()
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(all)
}

// POST /dlq/:id/reactivate
//
// Move a job out of the dead-letter lane and back onto its schedule.
func reactivateDeadLetterJob(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	job, err := services.ReactivateFromDeadLetter(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(job)
}

// POST /dlq/:id/complete
//
// Resolve a dead-letter entry without resuming the schedule. The job stays
// inactive with its schedule fields intact.
func completeDeadLetterJob(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	job, err := services.CompleteFromDeadLetter(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(job)
}
