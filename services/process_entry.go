package services

import (
	"fmt"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	types "github.com/Shyp/go-types"
	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/downstream"
	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/failures"
	"github.com/Pingpayio/ping-subscription-service/models/jobs"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/schedule"
)

// DefaultTimeout bounds the target action. An HTTP call that has not
// finished after this long counts as a failure; the timeout also keeps one
// slow target from head-of-line blocking the dequeuer pool.
var DefaultTimeout = 30 * time.Second

// JobProcessor is the default implementation of the dequeuer.Worker
// interface: it performs the target action for each acquired queue entry
// and records the outcome.
type JobProcessor struct {
	// A Client for delivering payloads to job targets.
	Client *downstream.Client
}

// NewJobProcessor creates a JobProcessor whose HTTP calls time out after
// DefaultTimeout.
func NewJobProcessor() *JobProcessor {
	return &JobProcessor{
		Client: downstream.NewClient(DefaultTimeout),
	}
}

// DoWork executes one acquired queue entry.
//
// The entry's snapshot may be stale, so the authoritative jobs row is
// re-read first. A missing row means the job was deleted after the entry
// was enqueued: the entry is consumed silently. An inactive row means the
// status changed while the entry was in flight: same treatment. This
// re-check is the mitigation for the race between a status change and an
// in-flight entry, not a guarantee.
func (jp *JobProcessor) DoWork(entry *models.QueueEntry) error {
	job, err := jobs.Get(entry.JobID)
	if err == jobs.ErrNotFound {
		log.Info().Str("entry_id", entry.EntryID).Str("job_id", entry.JobID.String()).
			Msg("job row deleted after enqueue, consuming entry")
		go metrics.Increment("process.skip.deleted")
		return queue.DeleteEntry(entry.EntryID)
	}
	if err != nil {
		return err
	}
	if job.Status == models.StatusInactive {
		log.Info().Str("entry_id", entry.EntryID).Str("job_id", entry.JobID.String()).
			Msg("job inactive, consuming entry without executing")
		go metrics.Increment("process.skip.inactive")
		return queue.DeleteEntry(entry.EntryID)
	}

	start := time.Now()
	err = jp.perform(job)
	go metrics.Time("process.action.latency", time.Since(start))
	if err != nil {
		go metrics.Increment("process.action.failed")
		return jp.HandleFailure(entry, err.Error())
	}
	go metrics.Increment("process.action.success")
	return jp.handleSuccess(job, entry)
}

// perform runs the action appropriate to the job's type, using the
// authoritative row rather than the queue snapshot.
func (jp *JobProcessor) perform(job *models.Job) error {
	switch job.Type {
	case models.TypeHTTP:
		return jp.Client.Post(job.Target, job.Payload)
	}
	return fmt.Errorf("services: unknown job type %q", job.Type)
}

// handleSuccess records the run on the jobs row and either reschedules the
// entry at the next occurrence (repeating entries, attempts budget reset)
// or consumes it (one-shot and run-now entries).
func (jp *JobProcessor) handleSuccess(job *models.Job, entry *models.QueueEntry) error {
	now := time.Now().UTC()
	var nextRun types.NullTime
	next, err := schedule.NextRun(job, now)
	if err != nil {
		// The row's schedule fields went bad after enqueue (should be
		// impossible past validation). Fail closed: record the run,
		// don't re-arm.
		log.Error().Err(err).Str("job_id", job.ID.String()).
			Msg("could not compute next run, entry will not repeat")
	} else if !next.IsZero() {
		nextRun = types.NullTime{Valid: true, Time: next}
	}

	if _, err := jobs.RecordResult(job.ID, now, nextRun); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("recording job result failed")
	}

	if entry.Repeats && nextRun.Valid {
		_, err := queue.Reschedule(entry.EntryID, MaxAttempts, nextRun.Time)
		return err
	}
	return queue.DeleteEntry(entry.EntryID)
}

// HandleFailure records the failure on the jobs row, then hands the entry
// back to the queue's retry policy: the attempts counter is decremented and
// run_after pushed out exponentially. Once the budget is exhausted the
// entry moves to the capped failed_entries record and leaves the queue.
func (jp *JobProcessor) HandleFailure(entry *models.QueueEntry, message string) error {
	if _, err := jobs.RecordFailure(entry.JobID, message); err != nil && err != jobs.ErrNotFound {
		log.Error().Err(err).Str("job_id", entry.JobID.String()).Msg("recording job failure failed")
	}

	if entry.Attempts <= 1 {
		go metrics.Increment("process.retries_exhausted")
		log.Warn().Str("entry_id", entry.EntryID).Str("job_id", entry.JobID.String()).
			Str("error", message).Msg("retry budget exhausted, recording failed entry")
		if _, err := failures.Create(entry.EntryID, entry.JobID, 0, message, entry.Payload); err != nil {
			log.Error().Err(err).Str("entry_id", entry.EntryID).Msg("recording failed entry failed")
		}
		return queue.DeleteEntry(entry.EntryID)
	}

	runAfter := getRunAfter(MaxAttempts, entry.Attempts-1)
	_, err := queue.Decrement(entry.EntryID, entry.Attempts, runAfter)
	if err != nil {
		// Another thread got here first; its decrement stands.
		log.Info().Err(err).Str("entry_id", entry.EntryID).Msg("entry already decremented")
		return nil
	}
	go metrics.Increment("process.retry_scheduled")
	return nil
}

// getRunAfter gets the time the entry should next be attempted, given the
// full attempts budget and the attempts remaining. The backoff doubles with
// each consumed attempt: 2^n seconds.
func getRunAfter(totalAttempts, remainingAttempts uint8) time.Time {
	backoff := totalAttempts - remainingAttempts
	return time.Now().UTC().Add(time.Duration(1<<backoff) * time.Second)
}
