package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	types "github.com/Shyp/go-types"
)

// Prefix is prepended to every job UUID in API requests and responses.
const Prefix = "job_"

// A Job is a persisted unit of scheduled work: a target action plus the
// schedule that decides when the action fires.
type Job struct {
	ID           types.PrefixUUID `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Type         JobType          `json:"type"`
	Target       string           `json:"target"`
	Payload      json.RawMessage  `json:"payload"`
	ScheduleType ScheduleType     `json:"schedule_type"`

	// Exactly one of the following three groups is populated, matching
	// ScheduleType. The jobs table enforces this with a check constraint.
	CronExpression types.NullString `json:"cron_expression"`
	SpecificTime   types.NullTime   `json:"specific_time"`
	Interval       NullInterval     `json:"interval"`
	IntervalValue  NullInt          `json:"interval_value"`

	Status       JobStatus        `json:"status"`
	LastRun      types.NullTime   `json:"last_run"`
	NextRun      types.NullTime   `json:"next_run"`
	ErrorMessage types.NullString `json:"error_message"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type JobType string

// TypeHTTP jobs POST their payload to the target URL. It is the only action
// kind today; the column is text so new kinds don't need a migration.
const TypeHTTP = JobType("http")

func (t *JobType) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*t = JobType(txt)
		return nil
	} else if bts, ok := src.([]byte); ok {
		*t = JobType(string(bts))
		return nil
	}
	return fmt.Errorf("models: unsupported JobType: %#v", src)
}

func (t JobType) Value() (driver.Value, error) {
	return string(t), nil
}

type ScheduleType string

const ScheduleCron = ScheduleType("cron")
const ScheduleSpecificTime = ScheduleType("specific_time")
const ScheduleRecurring = ScheduleType("recurring")

// Valid reports whether s is one of the three known schedule types.
func (s ScheduleType) Valid() bool {
	return s == ScheduleCron || s == ScheduleSpecificTime || s == ScheduleRecurring
}

func (s *ScheduleType) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*s = ScheduleType(txt)
		return nil
	} else if bts, ok := src.([]byte); ok {
		*s = ScheduleType(string(bts))
		return nil
	}
	return fmt.Errorf("models: unsupported ScheduleType: %#v", src)
}

func (s ScheduleType) Value() (driver.Value, error) {
	return string(s), nil
}

type JobStatus string

// StatusActive jobs have a live entry in the execution queue.
const StatusActive = JobStatus("active")

// StatusInactive jobs live in the dead-letter lane until an operator
// reactivates or completes them.
const StatusInactive = JobStatus("inactive")

// StatusFailed jobs remain in the execution queue while the queue retries
// them; the status records that the last attempt did not succeed.
const StatusFailed = JobStatus("failed")

func (j *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*j = JobStatus(txt)
		return nil
	} else if bts, ok := src.([]byte); ok {
		*j = JobStatus(string(bts))
		return nil
	}
	return fmt.Errorf("models: unsupported JobStatus: %#v", src)
}

func (j JobStatus) Value() (driver.Value, error) {
	return string(j), nil
}

// An Interval is the base unit of a recurring schedule.
type Interval string

const IntervalMinute = Interval("minute")
const IntervalHour = Interval("hour")
const IntervalDay = Interval("day")
const IntervalWeek = Interval("week")
const IntervalMonth = Interval("month")
const IntervalYear = Interval("year")

// Valid reports whether i is a known interval unit.
func (i Interval) Valid() bool {
	switch i {
	case IntervalMinute, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// NullInterval represents an Interval that may be null.
type NullInterval struct {
	Valid    bool
	Interval Interval
}

func (i *NullInterval) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		i.Valid = false
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*i = NullInterval{Valid: true, Interval: Interval(s)}
	return nil
}

func (i NullInterval) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(string(i.Interval))
}

func (i *NullInterval) Scan(src interface{}) error {
	if src == nil {
		i.Valid = false
		return nil
	}
	i.Valid = true
	return (*Interval)(&i.Interval).Scan(src)
}

func (i NullInterval) Value() (driver.Value, error) {
	if !i.Valid {
		return nil, nil
	}
	return string(i.Interval), nil
}

func (i *Interval) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*i = Interval(txt)
		return nil
	} else if bts, ok := src.([]byte); ok {
		*i = Interval(string(bts))
		return nil
	}
	return fmt.Errorf("models: unsupported Interval: %#v", src)
}

// NullInt represents an int64 that may be null, with null JSON round-tripping.
// database/sql's NullInt64 marshals as an object, which is wrong for the API.
type NullInt struct {
	Valid bool
	Int64 int64
}

func (n *NullInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(b, &n.Int64); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n NullInt) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Int64)
}

func (n *NullInt) Scan(src interface{}) error {
	if src == nil {
		n.Valid = false
		return nil
	}
	n.Valid = true
	switch v := src.(type) {
	case int64:
		n.Int64 = v
		return nil
	case int32:
		n.Int64 = int64(v)
		return nil
	}
	return fmt.Errorf("models: unsupported NullInt: %#v", src)
}

func (n NullInt) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Int64, nil
}
