// Logic for interacting with the "dead_letter_entries" table, the holding
// area for inactive jobs.
package deadletter

import (
	"database/sql"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/db"
)

// ErrNotFound indicates that the dead-letter entry was not found.
var ErrNotFound = errors.New("Dead letter entry not found")

var insertStmt *sql.Stmt
var getStmt *sql.Stmt
var deleteStmt *sql.Stmt
var getAllJobsStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No database connection, bailing")
	}

	if insertStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- deadletter.Insert
INSERT INTO dead_letter_entries (job_id, name, error_message)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO UPDATE
SET name = EXCLUDED.name,
	error_message = EXCLUDED.error_message
RETURNING %s`, fields())
	insertStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- deadletter.Get
SELECT %s FROM dead_letter_entries WHERE job_id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- deadletter.Delete
DELETE FROM dead_letter_entries WHERE job_id = $1`
	deleteStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	// The lane lists full job rows: operators inspecting the dead letter
	// lane want the schedule and error detail, not just ids.
	query = `-- deadletter.GetAllJobs
SELECT 'job_' || jobs.id,
	jobs.name,
	jobs.description,
	jobs.job_type,
	jobs.target,
	jobs.payload,
	jobs.schedule_type,
	jobs.cron_expression,
	jobs.specific_time,
	jobs.recur_interval,
	jobs.interval_value,
	jobs.status,
	jobs.last_run,
	jobs.next_run,
	jobs.error_message,
	jobs.created_at,
	jobs.updated_at
FROM jobs
INNER JOIN dead_letter_entries d ON jobs.id = d.job_id
ORDER BY d.created_at DESC`
	getAllJobsStmt, err = db.Conn.Prepare(query)
	return
}

// Insert parks the job in the dead-letter lane, upserting by job id. The
// entry stays until an operator reactivates or completes the job; nothing
// removes it automatically.
func Insert(jobID types.PrefixUUID, name string, errorMessage types.NullString) (*models.DeadLetterEntry, error) {
	entry := new(models.DeadLetterEntry)
	err := insertStmt.QueryRow(jobID, name, errorMessage).Scan(args(entry)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return entry, nil
}

// Get the dead-letter entry for the given job id. Returns
// deadletter.ErrNotFound if the job is not parked here.
func Get(jobID types.PrefixUUID) (*models.DeadLetterEntry, error) {
	entry := new(models.DeadLetterEntry)
	err := getStmt.QueryRow(jobID).Scan(args(entry)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return entry, nil
}

// Delete removes the job from the dead-letter lane. Absence is not an error;
// removal is idempotent.
func Delete(jobID types.PrefixUUID) error {
	_, err := deleteStmt.Exec(jobID)
	if err != nil {
		return dberror.GetError(err)
	}
	return nil
}

// GetAllJobs returns the full job rows for every dead-lettered job, most
// recently parked first.
func GetAllJobs() ([]*models.Job, error) {
	rows, err := getAllJobsStmt.Query()
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		job := new(models.Job)
		var bt []byte
		err := rows.Scan(&job.ID, &job.Name, &job.Description, &job.Type,
			&job.Target, &bt, &job.ScheduleType, &job.CronExpression,
			&job.SpecificTime, &job.Interval, &job.IntervalValue, &job.Status,
			&job.LastRun, &job.NextRun, &job.ErrorMessage, &job.CreatedAt,
			&job.UpdatedAt)
		if err != nil {
			return jobs, err
		}
		job.Payload = bt
		jobs = append(jobs, job)
	}
	err = rows.Err()
	return jobs, err
}

func fields() string {
	return fmt.Sprintf(`'%s' || job_id,
	name,
	error_message,
	created_at`, models.Prefix)
}

func args(entry *models.DeadLetterEntry) []interface{} {
	return []interface{}{
		&entry.JobID,
		&entry.Name,
		&entry.ErrorMessage,
		&entry.CreatedAt,
	}
}
