// Mediation layer between the server and database queries.
//
// The lifecycle functions in this file are the only writers that touch the
// jobs table, the execution queue lane and the dead-letter lane together.
// Every state-changing API operation routes through here so the three stay
// mutually consistent: the store mutation is applied first, then the lanes
// are reconciled best-effort, with reconciliation failures logged at error
// severity rather than unwinding the store write.
package services

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	types "github.com/Shyp/go-types"
	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/deadletter"
	"github.com/Pingpayio/ping-subscription-service/models/jobs"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/schedule"
)

// MaxAttempts is the retry budget given to every scheduled queue entry.
// After this many failed executions the entry moves to the failed_entries
// record.
var MaxAttempts = uint8(3)

// A JobInput is the caller-supplied definition of a job, shared by Create
// and Update.
type JobInput struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Type           models.JobType      `json:"type"`
	Target         string              `json:"target"`
	Payload        json.RawMessage     `json:"payload"`
	ScheduleType   models.ScheduleType `json:"schedule_type"`
	CronExpression types.NullString    `json:"cron_expression"`
	SpecificTime   types.NullTime      `json:"specific_time"`
	Interval       models.NullInterval `json:"interval"`
	IntervalValue  models.NullInt      `json:"interval_value"`
}

// Create validates the input, computes the first run, persists the row with
// status active, and enqueues it into the execution queue under the same id.
func Create(input JobInput) (*models.Job, error) {
	job, err := buildJob(input)
	if err != nil {
		return nil, err
	}
	id := types.GenerateUUID(models.Prefix)
	job.ID = id
	job.Status = models.StatusActive

	created, err := jobs.Create(*job)
	if err != nil {
		return nil, err
	}
	go metrics.Increment("job.create.success")
	reconcileEnqueue(created)
	return created, nil
}

// Update requires an existing row, validates as in Create, persists the new
// definition, and unconditionally removes the id from both lanes before
// re-adding it to the execution queue under the new schedule. No duplicate
// or stale scheduled fire survives an edit.
func Update(id types.PrefixUUID, input JobInput) (*models.Job, error) {
	if _, err := jobs.Get(id); err != nil {
		return nil, err
	}
	job, err := buildJob(input)
	if err != nil {
		return nil, err
	}
	job.ID = id

	updated, err := jobs.Update(*job)
	if err != nil {
		return nil, err
	}
	go metrics.Increment("job.update.success")
	reconcileRemove(id, "update")
	reconcileEnqueue(updated)
	return updated, nil
}

// Delete requires an existing row, deletes it, and removes the id from both
// lanes. Lane removal is idempotent; absence is not an error.
func Delete(id types.PrefixUUID) error {
	if err := jobs.Delete(id); err != nil {
		return err
	}
	go metrics.Increment("job.delete.success")
	reconcileRemove(id, "delete")
	return nil
}

// SetStatus persists a new status and moves the job between lanes.
// Transitioning to inactive parks the job in the dead-letter lane;
// transitioning to active re-derives the schedule and re-enqueues. Any
// other status value is rejected.
func SetStatus(id types.PrefixUUID, status models.JobStatus) (*models.Job, error) {
	if status != models.StatusActive && status != models.StatusInactive {
		return nil, invalidField("status", fmt.Sprintf("must be %q or %q", models.StatusActive, models.StatusInactive))
	}
	current, err := jobs.Get(id)
	if err != nil {
		return nil, err
	}
	var next time.Time
	if status == models.StatusActive {
		// Fail before the store write if the stored schedule can't
		// produce a future run; an active job with nothing enqueued
		// would violate the lane/status invariant.
		next, err = nextRunFor(current, time.Now().UTC())
		if err != nil {
			return nil, err
		}
	}
	updated, err := jobs.SetStatus(id, status)
	if err != nil {
		return nil, err
	}
	go metrics.Increment(fmt.Sprintf("job.status.%s", status))
	if status == models.StatusInactive {
		// Remove-then-add: the id must never be in both lanes at once.
		if err := queue.DeleteForJob(id); err != nil {
			logReconcileError("remove from queue", id, err)
		}
		if _, err := deadletter.Insert(id, updated.Name, updated.ErrorMessage); err != nil {
			logReconcileError("insert dead letter", id, err)
		}
		return updated, nil
	}
	updated, err = jobs.SetNextRun(id, types.NullTime{Valid: true, Time: next})
	if err != nil {
		return nil, err
	}
	if err := deadletter.Delete(id); err != nil {
		logReconcileError("remove dead letter", id, err)
	}
	reconcileEnqueue(updated)
	return updated, nil
}

// RunNow enqueues a single immediate execution without touching the job's
// schedule or next_run. The entry id carries a millisecond suffix so the
// manual run coexists with the pending scheduled entry instead of replacing
// it.
func RunNow(id types.PrefixUUID) (*models.QueueEntry, error) {
	job, err := jobs.Get(id)
	if err != nil {
		return nil, err
	}
	entryID := fmt.Sprintf("%s-%d", job.ID.String(), time.Now().UnixMilli())
	entry, err := queue.Enqueue(entryID, job.ID, 1, time.Now().UTC(), false,
		job.Type, job.Target, job.Payload)
	if err != nil {
		return nil, err
	}
	go metrics.Increment("job.run_now")
	return entry, nil
}

// ReactivateFromDeadLetter flips an inactive job back to active: the entry
// leaves the dead-letter lane and a fresh execution entry is derived from
// the stored schedule. Only valid while the job is inactive.
func ReactivateFromDeadLetter(id types.PrefixUUID) (*models.Job, error) {
	current, err := jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusInactive {
		return nil, invalidField("status", "only inactive jobs can be reactivated")
	}
	return SetStatus(id, models.StatusActive)
}

// CompleteFromDeadLetter acknowledges an inactive job without re-arming it:
// last_run is stamped, next_run and error_message are cleared, the entry
// leaves the dead-letter lane, and the status stays inactive. This is a
// terminal "acknowledge and drop", distinct from reactivation.
func CompleteFromDeadLetter(id types.PrefixUUID) (*models.Job, error) {
	current, err := jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusInactive {
		return nil, invalidField("status", "only inactive jobs can be completed")
	}
	updated, err := jobs.Complete(id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	go metrics.Increment("job.dead_letter.complete")
	if err := deadletter.Delete(id); err != nil {
		logReconcileError("remove dead letter", id, err)
	}
	return updated, nil
}

// buildJob validates the input and returns a models.Job with next_run
// computed. Returns a *ValidationError describing every offending field.
func buildJob(input JobInput) (*models.Job, error) {
	fieldErrs := map[string]string{}

	if input.Name == "" {
		fieldErrs["name"] = "is required"
	}
	if input.Type == "" {
		input.Type = models.TypeHTTP
	}
	if input.Type != models.TypeHTTP {
		fieldErrs["type"] = fmt.Sprintf("unknown job type %q", input.Type)
	}
	if input.Target == "" {
		fieldErrs["target"] = "is required"
	} else if u, err := url.Parse(input.Target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		fieldErrs["target"] = "must be an http or https URL"
	}

	if !input.ScheduleType.Valid() {
		fieldErrs["schedule_type"] = fmt.Sprintf("unknown schedule type %q", input.ScheduleType)
		return nil, &ValidationError{Fields: fieldErrs}
	}

	switch input.ScheduleType {
	case models.ScheduleCron:
		if !input.CronExpression.Valid || input.CronExpression.String == "" {
			fieldErrs["cron_expression"] = "is required for cron schedules"
		}
		if input.SpecificTime.Valid || input.Interval.Valid || input.IntervalValue.Valid {
			fieldErrs["schedule_type"] = "cron schedules must not set specific_time or interval fields"
		}
	case models.ScheduleSpecificTime:
		if !input.SpecificTime.Valid {
			fieldErrs["specific_time"] = "is required for specific_time schedules"
		}
		if input.CronExpression.Valid || input.Interval.Valid || input.IntervalValue.Valid {
			fieldErrs["schedule_type"] = "specific_time schedules must not set cron or interval fields"
		}
	case models.ScheduleRecurring:
		if !input.Interval.Valid || !input.IntervalValue.Valid {
			fieldErrs["interval"] = "interval and interval_value are required for recurring schedules"
		} else {
			if !input.Interval.Interval.Valid() {
				fieldErrs["interval"] = fmt.Sprintf("unknown interval %q", input.Interval.Interval)
			}
			if input.IntervalValue.Int64 <= 0 {
				fieldErrs["interval_value"] = "must be a positive integer"
			}
		}
		if input.CronExpression.Valid || input.SpecificTime.Valid {
			fieldErrs["schedule_type"] = "recurring schedules must not set cron or specific_time fields"
		}
	}
	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	job := &models.Job{
		Name:           input.Name,
		Description:    input.Description,
		Type:           input.Type,
		Target:         input.Target,
		Payload:        payload,
		ScheduleType:   input.ScheduleType,
		CronExpression: input.CronExpression,
		SpecificTime:   input.SpecificTime,
		Interval:       input.Interval,
		IntervalValue:  input.IntervalValue,
	}

	nextRun, err := nextRunFor(job, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job.NextRun = types.NullTime{Valid: true, Time: nextRun}
	return job, nil
}

// nextRunFor computes the next due time for the job's stored schedule,
// translating calculator failures into validation errors: a malformed cron
// expression or a specific time that is not strictly in the future must be
// rejected at the API edge, never silently scheduled.
func nextRunFor(job *models.Job, asOf time.Time) (time.Time, error) {
	if job.ScheduleType == models.ScheduleSpecificTime {
		if _, err := schedule.InitialDelay(job, asOf); err != nil {
			return time.Time{}, invalidField("specific_time", "must be strictly in the future")
		}
		return job.SpecificTime.Time, nil
	}
	if _, err := schedule.RepeatSpec(job); err != nil {
		if job.ScheduleType == models.ScheduleCron {
			return time.Time{}, invalidField("cron_expression", "is not a valid cron expression")
		}
		return time.Time{}, invalidField("interval", "is not a valid interval")
	}
	next, err := schedule.NextRun(job, asOf)
	if err != nil || next.IsZero() {
		return time.Time{}, invalidField("schedule_type", "schedule produces no future run")
	}
	return next, nil
}

// reconcileEnqueue puts the job's scheduled entry into the execution queue,
// reusing the job id as the entry id. Failures are logged, not returned: the
// store row is already authoritative and an operator can re-drive the lane
// from it.
func reconcileEnqueue(job *models.Job) {
	repeats := job.ScheduleType != models.ScheduleSpecificTime
	runAfter := time.Now().UTC()
	if job.NextRun.Valid {
		runAfter = job.NextRun.Time
	}
	_, err := queue.Enqueue(job.ID.String(), job.ID, MaxAttempts, runAfter,
		repeats, job.Type, job.Target, job.Payload)
	if err != nil {
		logReconcileError("enqueue", job.ID, err)
	}
}

// reconcileRemove clears the job id from both lanes.
func reconcileRemove(id types.PrefixUUID, op string) {
	if err := queue.DeleteForJob(id); err != nil {
		logReconcileError(op+": remove from queue", id, err)
	}
	if err := deadletter.Delete(id); err != nil {
		logReconcileError(op+": remove dead letter", id, err)
	}
}

func logReconcileError(op string, id types.PrefixUUID, err error) {
	go metrics.Increment("queue.reconcile.error")
	log.Error().Err(err).Str("job_id", id.String()).
		Msgf("queue reconciliation failed during %s; store remains authoritative", op)
}
