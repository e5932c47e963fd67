// Logic for interacting with the "jobs" table.
package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"
	uuid "github.com/kevinburke/go.uuid"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/db"
)

// ErrNotFound indicates that no jobs row exists with the requested id.
var ErrNotFound = errors.New("Job not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var getAllStmt *sql.Stmt
var getByStatusStmt *sql.Stmt
var updateStmt *sql.Stmt
var updateStatusStmt *sql.Stmt
var setNextRunStmt *sql.Stmt
var recordResultStmt *sql.Stmt
var recordFailureStmt *sql.Stmt
var completeStmt *sql.Stmt
var deleteStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No database connection, bailing")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- jobs.Create
INSERT INTO jobs (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING %s`, insertFields(), fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Get
SELECT %s FROM jobs WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetAll
SELECT %s FROM jobs ORDER BY created_at DESC`, fields())
	getAllStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.GetByStatus
SELECT %s FROM jobs WHERE status = $1 ORDER BY created_at DESC`, fields())
	getByStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Update
UPDATE jobs SET name = $2,
	description = $3,
	job_type = $4,
	target = $5,
	payload = $6,
	schedule_type = $7,
	cron_expression = $8,
	specific_time = $9,
	recur_interval = $10,
	interval_value = $11,
	next_run = $12,
	updated_at = now()
WHERE id = $1
RETURNING %s`, fields())
	updateStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.SetStatus
UPDATE jobs SET status = $2, updated_at = now()
WHERE id = $1
RETURNING %s`, fields())
	updateStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.SetNextRun
UPDATE jobs SET next_run = $2, updated_at = now()
WHERE id = $1
RETURNING %s`, fields())
	setNextRunStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.RecordResult
UPDATE jobs SET status = '%s',
	last_run = $2,
	next_run = $3,
	error_message = NULL,
	updated_at = now()
WHERE id = $1
RETURNING %s`, models.StatusActive, fields())
	recordResultStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.RecordFailure
UPDATE jobs SET status = '%s',
	error_message = $2,
	updated_at = now()
WHERE id = $1
RETURNING %s`, models.StatusFailed, fields())
	recordFailureStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- jobs.Complete
UPDATE jobs SET last_run = $2,
	next_run = NULL,
	error_message = NULL,
	updated_at = now()
WHERE id = $1
RETURNING %s`, fields())
	completeStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- jobs.Delete
DELETE FROM jobs WHERE id = $1`
	deleteStmt, err = db.Conn.Prepare(query)
	return
}

// Create inserts the given job and returns the persisted row. A
// dberror.Error is returned if Postgres rejects a constraint - duplicate id,
// inconsistent schedule fields, &c.
func Create(job models.Job) (*models.Job, error) {
	dbJob := new(models.Job)
	var bt []byte
	err := createStmt.QueryRow(job.ID, job.Name, job.Description, job.Type,
		job.Target, []byte(job.Payload), job.ScheduleType, job.CronExpression,
		job.SpecificTime, job.Interval, job.IntervalValue, job.Status,
		job.NextRun).Scan(args(dbJob, &bt)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	dbJob.Payload = bt
	return dbJob, nil
}

// Get the job with the given id. If no row exists, the error will be
// jobs.ErrNotFound.
func Get(id types.PrefixUUID) (*models.Job, error) {
	if id.UUID == uuid.Nil {
		return nil, errors.New("Invalid id")
	}
	job := new(models.Job)
	var bt []byte
	err := getStmt.QueryRow(id).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// GetRetry attempts to retrieve the job `attempts` times before giving up.
func GetRetry(id types.PrefixUUID, attempts uint8) (job *models.Job, err error) {
	for i := uint8(0); i < attempts; i++ {
		job, err = Get(id)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// GetAll returns every job, optionally filtered by status. Pass the empty
// string to list all jobs.
func GetAll(status models.JobStatus) ([]*models.Job, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = getAllStmt.Query()
	} else {
		rows, err = getByStatusStmt.Query(status)
	}
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		job := new(models.Job)
		var bt []byte
		if err := rows.Scan(args(job, &bt)...); err != nil {
			return jobs, err
		}
		job.Payload = bt
		jobs = append(jobs, job)
	}
	err = rows.Err()
	return jobs, err
}

// Update replaces the job's definition and next_run, and returns the updated
// row. Status, last_run and error_message are untouched; use SetStatus,
// RecordResult or RecordFailure for those.
func Update(job models.Job) (*models.Job, error) {
	dbJob := new(models.Job)
	var bt []byte
	err := updateStmt.QueryRow(job.ID, job.Name, job.Description, job.Type,
		job.Target, []byte(job.Payload), job.ScheduleType, job.CronExpression,
		job.SpecificTime, job.Interval, job.IntervalValue,
		job.NextRun).Scan(args(dbJob, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	dbJob.Payload = bt
	return dbJob, nil
}

// SetStatus persists a new status for the job.
func SetStatus(id types.PrefixUUID, status models.JobStatus) (*models.Job, error) {
	job := new(models.Job)
	var bt []byte
	err := updateStatusStmt.QueryRow(id, status).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// SetNextRun persists a recomputed next_run, leaving the rest of the row
// untouched. Used when a job is re-armed from the dead-letter lane.
func SetNextRun(id types.PrefixUUID, nextRun types.NullTime) (*models.Job, error) {
	job := new(models.Job)
	var bt []byte
	err := setNextRunStmt.QueryRow(id, nextRun).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// RecordResult marks a successful run: last_run is set, next_run is replaced
// (pass an invalid NullTime for one-shot jobs), error_message is cleared and
// the status returns to active.
func RecordResult(id types.PrefixUUID, lastRun time.Time, nextRun types.NullTime) (*models.Job, error) {
	job := new(models.Job)
	var bt []byte
	err := recordResultStmt.QueryRow(id, lastRun, nextRun).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// RecordFailure marks the job failed and stores the failure detail. The
// queue entry keeps its own retry budget; the row just reflects the most
// recent outcome.
func RecordFailure(id types.PrefixUUID, message string) (*models.Job, error) {
	job := new(models.Job)
	var bt []byte
	err := recordFailureStmt.QueryRow(id, message).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// Complete acknowledges a dead-lettered job: last_run is set, next_run and
// error_message are cleared. The status is left as-is; completing is
// explicitly not a reactivation.
func Complete(id types.PrefixUUID, lastRun time.Time) (*models.Job, error) {
	job := new(models.Job)
	var bt []byte
	err := completeStmt.QueryRow(id, lastRun).Scan(args(job, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	job.Payload = bt
	return job, nil
}

// Delete deletes the given job. Returns ErrNotFound if no row exists.
func Delete(id types.PrefixUUID) error {
	if id.UUID == uuid.Nil {
		return errors.New("Invalid id")
	}
	res, err := deleteStmt.Exec(id)
	if err != nil {
		return dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func insertFields() string {
	return `id,
	name,
	description,
	job_type,
	target,
	payload,
	schedule_type,
	cron_expression,
	specific_time,
	recur_interval,
	interval_value,
	status,
	next_run`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	name,
	description,
	job_type,
	target,
	payload,
	schedule_type,
	cron_expression,
	specific_time,
	recur_interval,
	interval_value,
	status,
	last_run,
	next_run,
	error_message,
	created_at,
	updated_at`, models.Prefix)
}

func args(job *models.Job, byteptr *[]byte) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Name,
		&job.Description,
		&job.Type,
		&job.Target,
		// can't scan into Payload directly, https://github.com/golang/go/issues/13905
		byteptr,
		&job.ScheduleType,
		&job.CronExpression,
		&job.SpecificTime,
		&job.Interval,
		&job.IntervalValue,
		&job.Status,
		&job.LastRun,
		&job.NextRun,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
}
