package services

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/models/queue"
)

// FailStuckEntries routes any in-progress queue entry with an updated_at
// timestamp older than the olderThan value through the normal failure path.
// A dequeuer that died mid-execution leaves its entry in-progress forever
// otherwise.
func FailStuckEntries(jp *JobProcessor, olderThan time.Duration) error {
	var olderThanTime time.Time
	if olderThan >= 0 {
		olderThanTime = time.Now().Add(-1 * olderThan)
	} else {
		olderThanTime = time.Now().Add(olderThan)
	}
	entries, err := queue.GetOldInProgress(olderThanTime)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		err = jp.HandleFailure(entry, "Execution timed out: entry was in progress past the stuck threshold")
		if err == nil {
			log.Info().Str("entry_id", entry.EntryID).Msg("found stuck entry and marked it as failed")
		} else {
			// Don't return an error here; there may easily be
			// race/idempotence errors with a stuck entry watcher. If it
			// errors we'll grab it on the next tick.
			log.Warn().Err(err).Str("entry_id", entry.EntryID).Msg("found stuck entry but could not process it")
		}
	}
	return nil
}

// WatchStuckEntries polls the queue for stuck entries (in-progress entries
// that haven't been updated in olderThan time) and fails them.
func WatchStuckEntries(jp *JobProcessor, interval time.Duration, olderThan time.Duration) {
	for range time.Tick(interval) {
		go func() {
			if err := FailStuckEntries(jp, olderThan); err != nil {
				log.Error().Err(err).Msg("error failing stuck entries")
			}
		}()
	}
}
