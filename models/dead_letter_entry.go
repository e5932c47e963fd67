package models

import (
	"time"

	types "github.com/Shyp/go-types"
)

// A DeadLetterEntry marks a job as parked in the dead-letter lane. The jobs
// row stays the source of truth; the entry exists so the lane can be listed
// and reconciled without scanning the jobs table.
type DeadLetterEntry struct {
	JobID        types.PrefixUUID `json:"job_id"`
	Name         string           `json:"name"`
	ErrorMessage types.NullString `json:"error_message"`
	CreatedAt    time.Time        `json:"created_at"`
}
