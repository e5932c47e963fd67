package services_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/failures"
	"github.com/Pingpayio/ping-subscription-service/models/jobs"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/services"
	"github.com/Pingpayio/ping-subscription-service/test"
	"github.com/Pingpayio/ping-subscription-service/test/factory"
)

// downstreamServer records request bodies and returns the configured status.
func downstreamServer(status int, calls *int64, bodies chan<- []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if bodies != nil {
			b, _ := io.ReadAll(r.Body)
			bodies <- b
		}
		w.WriteHeader(status)
	}))
}

func TestDoWorkSuccessReschedulesRepeatingEntry(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	bodies := make(chan []byte, 1)
	s := downstreamServer(http.StatusOK, &calls, bodies)
	defer s.Close()

	job := factory.CreateJob(t, factory.RecurringInput(s.URL))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	var sent map[string]string
	require.NoError(t, json.Unmarshal(<-bodies, &sent))
	assert.Equal(t, "sub_123", sent["subscription_id"])

	// The jobs row recorded the run and the entry was re-armed with a
	// fresh budget roughly two days out.
	refreshed, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, refreshed.Status)
	assert.True(t, refreshed.LastRun.Valid)
	require.True(t, refreshed.NextRun.Valid)

	rearmed, err := queue.Get(job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.EntryQueued, rearmed.Status)
	assert.Equal(t, services.MaxAttempts, rearmed.Attempts)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 2), rearmed.RunAfter, time.Minute)
}

func TestDoWorkSuccessConsumesOneShotEntry(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	s := downstreamServer(http.StatusAccepted, &calls, nil)
	defer s.Close()

	job := factory.CreateJob(t, factory.SpecificTimeInput(s.URL, time.Now().UTC().Add(time.Hour)))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	_, err = queue.Get(job.ID.String())
	assert.Equal(t, queue.ErrNotFound, err)

	refreshed, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.LastRun.Valid)
	assert.False(t, refreshed.NextRun.Valid)
}

func TestDoWorkFailureDecrementsAndBacksOff(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	s := downstreamServer(http.StatusInternalServerError, &calls, nil)
	defer s.Close()

	job := factory.CreateJob(t, factory.RecurringInput(s.URL))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	refreshed, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, refreshed.Status)
	assert.True(t, refreshed.ErrorMessage.Valid)

	retried, err := queue.Get(job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, services.MaxAttempts-1, retried.Attempts)
	assert.Equal(t, models.EntryQueued, retried.Status)
	assert.True(t, retried.RunAfter.After(time.Now().UTC()))
}

func TestDoWorkExhaustedBudgetRecordsFailedEntry(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	s := downstreamServer(http.StatusBadGateway, &calls, nil)
	defer s.Close()

	job := factory.CreateJob(t, factory.RecurringInput(s.URL))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)
	entry.Attempts = 1

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	_, err = queue.Get(job.ID.String())
	assert.Equal(t, queue.ErrNotFound, err)

	failed, err := failures.GetAll()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID.String(), failed[0].EntryID)
	assert.True(t, failed[0].ErrorMessage.Valid)
}

func TestDoWorkSkipsDeletedJob(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	s := downstreamServer(http.StatusOK, &calls, nil)
	defer s.Close()

	job := factory.CreateJob(t, factory.RecurringInput(s.URL))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)

	// Delete the row out from under the entry, as a DELETE racing an
	// in-flight execution would.
	require.NoError(t, jobs.Delete(job.ID))

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
	_, err = queue.Get(job.ID.String())
	assert.Equal(t, queue.ErrNotFound, err)
}

func TestDoWorkSkipsInactiveJob(t *testing.T) {
	defer test.TearDown(t)
	var calls int64
	s := downstreamServer(http.StatusOK, &calls, nil)
	defer s.Close()

	job := factory.CreateJob(t, factory.RecurringInput(s.URL))
	entry, err := queue.Get(job.ID.String())
	require.NoError(t, err)

	_, err = services.SetStatus(job.ID, models.StatusInactive)
	require.NoError(t, err)

	jp := services.NewJobProcessor()
	require.NoError(t, jp.DoWork(entry))

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}
