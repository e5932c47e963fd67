// Logic for interacting with the "queue_entries" table, the active
// execution lane.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/db"
)

// ErrNotFound indicates that the queue entry was not found.
var ErrNotFound = errors.New("Queue entry not found")

var upsertStmt *sql.Stmt
var getStmt *sql.Stmt
var getForJobStmt *sql.Stmt
var acquireStmt *sql.Stmt
var rescheduleStmt *sql.Stmt
var decrementStmt *sql.Stmt
var deleteEntryStmt *sql.Stmt
var deleteForJobStmt *sql.Stmt
var countReadyAndAllStmt *sql.Stmt
var oldEntriesStmt *sql.Stmt

// StuckEntryLimit is the maximum number of stuck entries to fetch in one
// database query.
var StuckEntryLimit = 100

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No database connection, bailing")
	}

	if upsertStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- queue.Enqueue
INSERT INTO queue_entries (%s)
VALUES ($1, $2, '%s', $3, $4, $5, $6, $7, $8)
ON CONFLICT (entry_id) DO UPDATE
SET status = '%s',
	attempts = EXCLUDED.attempts,
	run_after = EXCLUDED.run_after,
	repeats = EXCLUDED.repeats,
	job_type = EXCLUDED.job_type,
	target = EXCLUDED.target,
	payload = EXCLUDED.payload,
	updated_at = now()
RETURNING %s`, insertFields(), models.EntryQueued, models.EntryQueued, fields())
	upsertStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.Get
SELECT %s FROM queue_entries WHERE entry_id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.GetForJob
SELECT %s FROM queue_entries WHERE job_id = $1 ORDER BY created_at ASC`, fields())
	getForJobStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.Acquire
WITH due_entry AS (
	SELECT entry_id AS inner_id
	FROM queue_entries
	WHERE status='%[1]s'
		AND run_after <= now()
	ORDER BY run_after ASC
	LIMIT 1
	FOR UPDATE
) UPDATE queue_entries
SET status='%[2]s',
	updated_at=now()
FROM due_entry
WHERE queue_entries.entry_id = due_entry.inner_id
	AND status='%[1]s'
RETURNING %[3]s`, models.EntryQueued, models.EntryInProgress, fields())
	acquireStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.Reschedule
UPDATE queue_entries
SET status = '%s',
	attempts = $2,
	run_after = $3,
	updated_at = now()
WHERE entry_id = $1
RETURNING %s`, models.EntryQueued, fields())
	rescheduleStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.Decrement
UPDATE queue_entries
SET status = '%s',
	attempts = attempts - 1,
	run_after = $3,
	updated_at = now()
WHERE entry_id = $1
	AND attempts = $2
RETURNING %s`, models.EntryQueued, fields())
	decrementStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.DeleteEntry
DELETE FROM queue_entries WHERE entry_id = $1`
	deleteEntryStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.DeleteForJob
DELETE FROM queue_entries WHERE job_id = $1`
	deleteForJobStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- queue.CountReadyAndAll
WITH all_count AS (
	SELECT count(*) FROM queue_entries
), ready_count AS (
	SELECT count(*) FROM queue_entries WHERE run_after <= now()
)
SELECT all_count.count, ready_count.count
FROM all_count, ready_count`
	countReadyAndAllStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- queue.GetOldInProgress
SELECT %s FROM queue_entries WHERE status='%s' AND updated_at < $1 LIMIT %d`,
		fields(), models.EntryInProgress, StuckEntryLimit)
	oldEntriesStmt, err = db.Conn.Prepare(query)
	return
}

// Enqueue inserts a queue entry, or resets an existing one with the same
// entry id ("upsert by id": re-enqueueing a job replaces its scheduled fire,
// it never duplicates it). The entry starts queued with the full attempts
// budget.
func Enqueue(entryID string, jobID types.PrefixUUID, attempts uint8, runAfter time.Time, repeats bool, jobType models.JobType, target string, payload json.RawMessage) (*models.QueueEntry, error) {
	entry := new(models.QueueEntry)
	var bt []byte
	if len(payload) == 0 {
		payload = []byte("null")
	}
	err := upsertStmt.QueryRow(entryID, jobID, attempts, runAfter, repeats,
		jobType, target, []byte(payload)).Scan(args(entry, &bt)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	entry.Payload = bt
	return entry, nil
}

// Get the queue entry with the given entry id. Returns queue.ErrNotFound if
// no entry exists.
func Get(entryID string) (*models.QueueEntry, error) {
	entry := new(models.QueueEntry)
	var bt []byte
	err := getStmt.QueryRow(entryID).Scan(args(entry, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	entry.Payload = bt
	return entry, nil
}

// GetForJob returns every entry correlated with the job id - at most the
// scheduled entry plus any in-flight run-now entries.
func GetForJob(jobID types.PrefixUUID) ([]*models.QueueEntry, error) {
	rows, err := getForJobStmt.Query(jobID)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	var entries []*models.QueueEntry
	for rows.Next() {
		entry := new(models.QueueEntry)
		var bt []byte
		if err := rows.Scan(args(entry, &bt)...); err != nil {
			return entries, err
		}
		entry.Payload = bt
		entries = append(entries, entry)
	}
	err = rows.Err()
	return entries, err
}

// Acquire a queue entry that is due to run. The row moves to in-progress
// under FOR UPDATE, so a given entry id is never handed to two dequeuers at
// once. Returns sql.ErrNoRows if nothing is due.
func Acquire() (*models.QueueEntry, error) {
	entry := new(models.QueueEntry)
	var bt []byte

	rows, err := acquireStmt.Query()
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	count := 0
	scanned := false
	for rows.Next() {
		count += 1
		if !scanned {
			rows.Scan(args(entry, &bt)...)
			scanned = true
		}
	}
	if count == 0 {
		return nil, sql.ErrNoRows
	}
	if count > 1 {
		panic(fmt.Sprintf("Too many rows affected by Acquire: %d", count))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	entry.Payload = bt
	return entry, nil
}

// Reschedule returns an in-progress entry to the queued state with a new
// run_after and a fresh attempts budget. Used after a successful run of a
// repeating entry.
func Reschedule(entryID string, attempts uint8, runAfter time.Time) (*models.QueueEntry, error) {
	entry := new(models.QueueEntry)
	var bt []byte
	err := rescheduleStmt.QueryRow(entryID, attempts, runAfter).Scan(args(entry, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	entry.Payload = bt
	return entry, nil
}

// Decrement decrements the attempts counter for an existing entry and sets
// its status back to queued with the given run_after. If the entry does not
// exist, or the attempts counter in the database does not match the passed
// in value, sql.ErrNoRows is returned.
func Decrement(entryID string, attempts uint8, runAfter time.Time) (*models.QueueEntry, error) {
	entry := new(models.QueueEntry)
	var bt []byte
	err := decrementStmt.QueryRow(entryID, attempts, runAfter).Scan(args(entry, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	entry.Payload = bt
	return entry, nil
}

// DeleteEntry deletes a single entry by its entry id. Absence is not an
// error; removal is idempotent.
func DeleteEntry(entryID string) error {
	_, err := deleteEntryStmt.Exec(entryID)
	if err != nil {
		return dberror.GetError(err)
	}
	return nil
}

// DeleteForJob removes every entry correlated with the job id - the
// scheduled entry and any pending run-now entries. Absence is not an error.
func DeleteForJob(jobID types.PrefixUUID) error {
	_, err := deleteForJobStmt.Exec(jobID)
	if err != nil {
		return dberror.GetError(err)
	}
	return nil
}

// GetOldInProgress finds in-progress entries with an updated_at timestamp
// older than olderThan. A maximum of StuckEntryLimit entries is returned.
func GetOldInProgress(olderThan time.Time) ([]*models.QueueEntry, error) {
	rows, err := oldEntriesStmt.Query(olderThan)
	var entries []*models.QueueEntry
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		entry := new(models.QueueEntry)
		var bt []byte
		if err := rows.Scan(args(entry, &bt)...); err != nil {
			return entries, err
		}
		entry.Payload = bt
		entries = append(entries, entry)
	}
	err = rows.Err()
	return entries, err
}

// CountReadyAndAll returns the total number of entries in the lane, and the
// number whose run_after has passed.
func CountReadyAndAll() (allCount int, readyCount int, err error) {
	err = countReadyAndAllStmt.QueryRow().Scan(&allCount, &readyCount)
	return
}

func insertFields() string {
	return `entry_id,
	job_id,
	status,
	attempts,
	run_after,
	repeats,
	job_type,
	target,
	payload`
}

func fields() string {
	return fmt.Sprintf(`entry_id,
	'%s' || job_id,
	status,
	attempts,
	run_after,
	repeats,
	job_type,
	target,
	payload,
	created_at,
	updated_at`, models.Prefix)
}

func args(entry *models.QueueEntry, byteptr *[]byte) []interface{} {
	return []interface{}{
		&entry.EntryID,
		&entry.JobID,
		&entry.Status,
		&entry.Attempts,
		&entry.RunAfter,
		&entry.Repeats,
		&entry.Type,
		&entry.Target,
		// can't scan into Payload directly, https://github.com/golang/go/issues/13905
		byteptr,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	}
}
