// Package schedule computes run times from a job's schedule fields.
//
// Every function here is pure: inputs are a job and an "as of" reference
// time, outputs are delays, repeat specifications, or the next timestamp the
// job is due. Malformed cron expressions and unknown interval units fail
// closed with an error; the caller decides whether that is a validation
// failure or an operational one.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Pingpayio/ping-subscription-service/models"
)

// ErrPastTime is returned by InitialDelay when the job's specific time is not
// strictly in the future.
var ErrPastTime = errors.New("schedule: time must be in the future")

// ErrNoSchedule is returned when a job's schedule fields don't support the
// requested computation (for example asking for an initial delay on a cron
// job).
var ErrNoSchedule = errors.New("schedule: job schedule does not apply")

// InitialDelay returns how long from asOf until a specific-time job should
// fire. Valid only for specific-time jobs; returns ErrPastTime unless the
// stored time is strictly after asOf.
func InitialDelay(job *models.Job, asOf time.Time) (time.Duration, error) {
	if job.ScheduleType != models.ScheduleSpecificTime || !job.SpecificTime.Valid {
		return 0, ErrNoSchedule
	}
	d := job.SpecificTime.Time.Sub(asOf)
	if d <= 0 {
		return 0, ErrPastTime
	}
	return d, nil
}

// RepeatSpec returns the repeat specification for a repeating job: the cron
// expression itself for cron jobs (validated, never rewritten), or an
// "@every" expression for recurring jobs. One-shot jobs and unknown interval
// units return an error.
//
// Month and year units use 30- and 365-day durations in the returned text.
// The textual spec exists for display and validation; actual rescheduling
// goes through NextRun, which uses calendar arithmetic.
func RepeatSpec(job *models.Job) (string, error) {
	switch job.ScheduleType {
	case models.ScheduleCron:
		if !job.CronExpression.Valid {
			return "", ErrNoSchedule
		}
		expr := job.CronExpression.String
		if _, err := cron.ParseStandard(expr); err != nil {
			return "", fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
		}
		return expr, nil
	case models.ScheduleRecurring:
		d, err := intervalDuration(job)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("@every %s", d), nil
	}
	return "", ErrNoSchedule
}

// NextRun returns the next time after asOf at which the job is due.
//
// Cron jobs ask the parsed expression for the next fire time. Recurring jobs
// add interval_value units to asOf, using calendar arithmetic so that
// "1 month" lands on the same day next month rather than 30 days later.
// Specific-time jobs return their stored time while it is still in the
// future, and a zero time afterwards: a one-shot job has no subsequent run.
func NextRun(job *models.Job, asOf time.Time) (time.Time, error) {
	switch job.ScheduleType {
	case models.ScheduleCron:
		if !job.CronExpression.Valid {
			return time.Time{}, ErrNoSchedule
		}
		sched, err := cron.ParseStandard(job.CronExpression.String)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule: invalid cron expression %q: %w", job.CronExpression.String, err)
		}
		return sched.Next(asOf), nil
	case models.ScheduleRecurring:
		return addInterval(job, asOf)
	case models.ScheduleSpecificTime:
		if !job.SpecificTime.Valid {
			return time.Time{}, ErrNoSchedule
		}
		if job.SpecificTime.Time.After(asOf) {
			return job.SpecificTime.Time, nil
		}
		return time.Time{}, nil
	}
	return time.Time{}, ErrNoSchedule
}

func recurringFields(job *models.Job) (models.Interval, int, error) {
	if !job.Interval.Valid || !job.IntervalValue.Valid {
		return "", 0, ErrNoSchedule
	}
	unit := job.Interval.Interval
	n := int(job.IntervalValue.Int64)
	if n <= 0 {
		return "", 0, fmt.Errorf("schedule: interval value must be positive, got %d", n)
	}
	if !unit.Valid() {
		return "", 0, fmt.Errorf("schedule: unknown interval unit %q", unit)
	}
	return unit, n, nil
}

func addInterval(job *models.Job, asOf time.Time) (time.Time, error) {
	unit, n, err := recurringFields(job)
	if err != nil {
		return time.Time{}, err
	}
	switch unit {
	case models.IntervalMinute:
		return asOf.Add(time.Duration(n) * time.Minute), nil
	case models.IntervalHour:
		return asOf.Add(time.Duration(n) * time.Hour), nil
	case models.IntervalDay:
		return asOf.AddDate(0, 0, n), nil
	case models.IntervalWeek:
		return asOf.AddDate(0, 0, 7*n), nil
	case models.IntervalMonth:
		return asOf.AddDate(0, n, 0), nil
	case models.IntervalYear:
		return asOf.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("schedule: unknown interval unit %q", unit)
}

func intervalDuration(job *models.Job) (time.Duration, error) {
	unit, n, err := recurringFields(job)
	if err != nil {
		return 0, err
	}
	switch unit {
	case models.IntervalMinute:
		return time.Duration(n) * time.Minute, nil
	case models.IntervalHour:
		return time.Duration(n) * time.Hour, nil
	case models.IntervalDay:
		return time.Duration(n) * 24 * time.Hour, nil
	case models.IntervalWeek:
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case models.IntervalMonth:
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	case models.IntervalYear:
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("schedule: unknown interval unit %q", unit)
}
