package queue_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
	"github.com/Pingpayio/ping-subscription-service/test"
	"github.com/Pingpayio/ping-subscription-service/test/factory"
)

func TestEnqueueUpsertsByEntryID(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	id := factory.RandomId(models.Prefix)

	first := factory.CreateQueueEntry(t, id, time.Now().UTC().Add(time.Hour))
	assert.Equal(t, models.EntryQueued, first.Status)
	assert.Equal(t, uint8(3), first.Attempts)

	// Re-enqueueing the same entry id replaces the scheduled fire, it
	// never duplicates it.
	later := time.Now().UTC().Add(2 * time.Hour)
	second, err := queue.Enqueue(id.String(), id, 3, later, true, models.TypeHTTP,
		"https://example.com/hooks/v2", factory.EmptyPayload)
	require.NoError(t, err)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, "https://example.com/hooks/v2", second.Target)

	entries, err := queue.GetForJob(id)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAcquireReturnsNoRowsWhenNothingDue(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	factory.CreateQueueEntry(t, factory.RandomId(models.Prefix), time.Now().UTC().Add(time.Hour))

	_, err := queue.Acquire()
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestAcquireMovesEntryToInProgress(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	id := factory.RandomId(models.Prefix)
	factory.CreateQueueEntry(t, id, time.Now().UTC().Add(-time.Second))

	entry, err := queue.Acquire()
	require.NoError(t, err)
	assert.Equal(t, id.String(), entry.EntryID)
	assert.Equal(t, models.EntryInProgress, entry.Status)

	// The entry is in flight, so a second acquire finds nothing.
	_, err = queue.Acquire()
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestDecrementRequiresMatchingAttempts(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	id := factory.RandomId(models.Prefix)
	factory.CreateQueueEntry(t, id, time.Now().UTC())

	entry, err := queue.Decrement(id.String(), 3, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), entry.Attempts)
	assert.Equal(t, models.EntryQueued, entry.Status)

	// A second decrement with the stale counter loses the race.
	_, err = queue.Decrement(id.String(), 3, time.Now().UTC().Add(time.Second))
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestDeleteForJobRemovesAllEntries(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	id := factory.RandomId(models.Prefix)
	factory.CreateQueueEntry(t, id, time.Now().UTC().Add(time.Hour))

	require.NoError(t, queue.DeleteForJob(id))
	_, err := queue.Get(id.String())
	assert.Equal(t, queue.ErrNotFound, err)

	// Absence is not an error.
	require.NoError(t, queue.DeleteForJob(id))
}
