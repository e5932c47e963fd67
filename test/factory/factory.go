// Package factory contains helpers for instantiating tests.
package factory

import (
	"encoding/json"
	"testing"
	"time"

	types "github.com/Shyp/go-types"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/services"
	"github.com/Pingpayio/ping-subscription-service/test"
)

var EmptyPayload = json.RawMessage([]byte("{}"))

var SamplePayload = json.RawMessage([]byte(`{"subscription_id":"sub_123","amount":"19.99"}`))

// RandomId returns a random UUID with the given prefix.
func RandomId(prefix string) types.PrefixUUID {
	return types.GenerateUUID(prefix)
}

// CronInput returns a valid cron-scheduled job input pointing at target.
func CronInput(target string) services.JobInput {
	return services.JobInput{
		Name:           "monthly-invoice",
		Description:    "bill active subscriptions",
		Type:           models.TypeHTTP,
		Target:         target,
		Payload:        SamplePayload,
		ScheduleType:   models.ScheduleCron,
		CronExpression: types.NullString{Valid: true, String: "0 0 1 * *"},
	}
}

// RecurringInput returns a valid recurring job input firing every 2 days.
func RecurringInput(target string) services.JobInput {
	return services.JobInput{
		Name:          "renewal-reminder",
		Type:          models.TypeHTTP,
		Target:        target,
		Payload:       SamplePayload,
		ScheduleType:  models.ScheduleRecurring,
		Interval:      models.NullInterval{Valid: true, Interval: models.IntervalDay},
		IntervalValue: models.NullInt{Valid: true, Int64: 2},
	}
}

// SpecificTimeInput returns a valid one-shot job input firing at the given
// future time.
func SpecificTimeInput(target string, at time.Time) services.JobInput {
	return services.JobInput{
		Name:         "trial-expiry",
		Type:         models.TypeHTTP,
		Target:       target,
		Payload:      EmptyPayload,
		ScheduleType: models.ScheduleSpecificTime,
		SpecificTime: types.NullTime{Valid: true, Time: at},
	}
}

// CreateJob runs the full create flow (validate, persist, enqueue) and
// returns the stored job.
func CreateJob(t testing.TB, input services.JobInput) *models.Job {
	t.Helper()
	test.SetUp(t)
	job, err := services.Create(input)
	if err != nil {
		t.Fatalf("factory: creating job: %s", err)
	}
	return job
}

// CreateQueueEntry inserts a queue entry directly, bypassing the lifecycle
// layer, for tests that exercise the queue store on its own.
func CreateQueueEntry(t testing.TB, jobID types.PrefixUUID, runAfter time.Time) *models.QueueEntry {
	t.Helper()
	entry, err := queue.Enqueue(jobID.String(), jobID, 3, runAfter, true, models.TypeHTTP, "https://example.com/hooks", EmptyPayload)
	if err != nil {
		t.Fatalf("factory: enqueueing entry: %s", err)
	}
	return entry
}
