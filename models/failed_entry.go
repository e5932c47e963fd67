package models

import (
	"encoding/json"
	"time"

	types "github.com/Shyp/go-types"
)

// A FailedEntry records a queue entry whose retry budget was exhausted. The
// table is trimmed to a fixed cap; entries exist for operator inspection
// only and are never re-executed automatically.
type FailedEntry struct {
	EntryID      string           `json:"entry_id"`
	JobID        types.PrefixUUID `json:"job_id"`
	Attempts     uint8            `json:"attempts"`
	ErrorMessage types.NullString `json:"error_message"`
	Payload      json.RawMessage  `json:"payload"`
	CreatedAt    time.Time        `json:"created_at"`
}
