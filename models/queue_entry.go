package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	types "github.com/Shyp/go-types"
)

type EntryStatus string

// EntryQueued indicates a QueueEntry is waiting for its run_after time.
const EntryQueued = EntryStatus("queued")

// EntryInProgress indicates a dequeuer has acquired the entry and is acting
// on it.
const EntryInProgress = EntryStatus("in-progress")

// A QueueEntry is one row in the execution queue lane.
//
// EntryID equals the job id string for scheduled entries, so re-enqueueing a
// job is an upsert rather than a duplicate. Run-now entries carry a
// millisecond suffix to deliberately coexist with the scheduled entry.
//
// Type, Target and Payload are a snapshot taken at enqueue time; the worker
// re-reads the jobs row before acting, since the row may have changed after
// the entry was enqueued.
type QueueEntry struct {
	EntryID   string           `json:"entry_id"`
	JobID     types.PrefixUUID `json:"job_id"`
	Status    EntryStatus      `json:"status"`
	Attempts  uint8            `json:"attempts"`
	RunAfter  time.Time        `json:"run_after"`
	Repeats   bool             `json:"repeats"`
	Type      JobType          `json:"type"`
	Target    string           `json:"target"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (e *EntryStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*e = EntryStatus(txt)
		return nil
	} else if bts, ok := src.([]byte); ok {
		*e = EntryStatus(string(bts))
		return nil
	}
	return fmt.Errorf("models: unsupported EntryStatus: %#v", src)
}

func (e EntryStatus) Value() (driver.Value, error) {
	return string(e), nil
}
