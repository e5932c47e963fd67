package server

import (
	"encoding/json"
	"net/http"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/deadletter"
	"github.com/Pingpayio/ping-subscription-service/models/jobs"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/rest"
	"github.com/Pingpayio/ping-subscription-service/services"
)

func isNotFound(err error) bool {
	return err == jobs.ErrNotFound || err == queue.ErrNotFound || err == deadletter.ErrNotFound
}

// POST /jobs
//
// Create a job and enqueue it. Responds with 201 and the persisted row, or
// 400 with field detail if the schedule fields are inconsistent.
func createJob(w http.ResponseWriter, r *http.Request) {
	var input services.JobInput
	if r.Body == nil {
		badRequest(w, r, invalidJSONErr(r.URL.Path))
		return
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		badRequest(w, r, invalidJSONErr(r.URL.Path))
		return
	}
	job, err := services.Create(input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// GET /jobs?status=
//
// List jobs, optionally filtered by status.
func listJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status != "" && status != models.StatusActive &&
		status != models.StatusInactive && status != models.StatusFailed {
		badRequest(w, r, &rest.Error{
			ID:       "invalid_parameter",
			Title:    "Invalid status filter",
			Instance: r.URL.Path,
		})
		return
	}
	all, err := jobs.GetAll(status)
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(all)
}

// GET /jobs/:id
func getJob(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	job, err := jobs.GetRetry(id, 3)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(job)
}

// PUT /jobs/:id
//
// Replace the job's definition. The old scheduled fire is removed from both
// lanes before the new one is enqueued.
func updateJob(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	var input services.JobInput
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		badRequest(w, r, invalidJSONErr(r.URL.Path))
		return
	}
	job, err := services.Update(id, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(job)
}

// DELETE /jobs/:id
func deleteJob(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	if err := services.Delete(id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"id": id.String(), "deleted": "true"})
}

// A StatusRequest is sent in the body of a PATCH /jobs/:id/status request.
type StatusRequest struct {
	Status models.JobStatus `json:"status"`
}

// PATCH /jobs/:id/status
//
// Transition the job between active and inactive. Inactive jobs move to the
// dead-letter lane; active jobs are re-enqueued from their stored schedule.
func patchJobStatus(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	var sr StatusRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		badRequest(w, r, invalidJSONErr(r.URL.Path))
		return
	}
	job, err := services.SetStatus(id, sr.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(job)
}

// POST /jobs/:id/run
//
// Enqueue a single immediate execution without touching the schedule.
func runJobNow(w http.ResponseWriter, r *http.Request) {
	id, wroteResponse := getId(w, r)
	if wroteResponse {
		return
	}
	entry, err := services.RunNow(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entry)
}
