// Logic for interacting with the "failed_entries" table, the capped record
// of queue entries whose retry budget was exhausted.
package failures

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	dberror "github.com/Shyp/go-dberror"
	types "github.com/Shyp/go-types"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/db"
)

// Limit is the maximum number of failed entries retained. Create trims the
// oldest rows past this cap after each insert.
var Limit = 1000

var createStmt *sql.Stmt
var trimStmt *sql.Stmt
var getAllStmt *sql.Stmt

// Setup prepares all database queries in this package.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No database connection, bailing")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- failures.Create
INSERT INTO failed_entries (entry_id, job_id, attempts, error_message, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entry_id) DO UPDATE
SET attempts = EXCLUDED.attempts,
	error_message = EXCLUDED.error_message,
	payload = EXCLUDED.payload,
	created_at = now()
RETURNING %s`, fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- failures.Trim
DELETE FROM failed_entries
WHERE entry_id IN (
	SELECT entry_id FROM failed_entries
	ORDER BY created_at DESC
	OFFSET $1
)`
	trimStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- failures.GetAll
SELECT %s FROM failed_entries ORDER BY created_at DESC`, fields())
	getAllStmt, err = db.Conn.Prepare(query)
	return
}

// Create records an exhausted entry and trims the table to the configured
// cap. A trim failure is returned, but the record itself is already durable
// at that point.
func Create(entryID string, jobID types.PrefixUUID, attempts uint8, errorMessage string, payload json.RawMessage) (*models.FailedEntry, error) {
	fe := new(models.FailedEntry)
	var bt []byte
	if len(payload) == 0 {
		payload = []byte("null")
	}
	err := createStmt.QueryRow(entryID, jobID, attempts, errorMessage,
		[]byte(payload)).Scan(args(fe, &bt)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	fe.Payload = bt
	if _, err := trimStmt.Exec(Limit); err != nil {
		return fe, dberror.GetError(err)
	}
	return fe, nil
}

// GetAll returns every retained failed entry, newest first.
func GetAll() ([]*models.FailedEntry, error) {
	rows, err := getAllStmt.Query()
	if err != nil {
		return nil, dberror.GetError(err)
	}
	defer rows.Close()
	entries := []*models.FailedEntry{}
	for rows.Next() {
		fe := new(models.FailedEntry)
		var bt []byte
		if err := rows.Scan(args(fe, &bt)...); err != nil {
			return entries, err
		}
		fe.Payload = bt
		entries = append(entries, fe)
	}
	err = rows.Err()
	return entries, err
}

func fields() string {
	return fmt.Sprintf(`entry_id,
	'%s' || job_id,
	attempts,
	error_message,
	payload,
	created_at`, models.Prefix)
}

func args(fe *models.FailedEntry, byteptr *[]byte) []interface{} {
	return []interface{}{
		&fe.EntryID,
		&fe.JobID,
		&fe.Attempts,
		&fe.ErrorMessage,
		// can't scan into Payload directly, https://github.com/golang/go/issues/13905
		byteptr,
		&fe.CreatedAt,
	}
}
