// The dequeuer retrieves due queue entries from the database and does some
// work with them.
package dequeuer

import (
	"database/sql"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	dberror "github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/models"
	"github.com/Pingpayio/ping-subscription-service/models/queue"
)

const defaultSleepFactor = 2

// 10ms * 2^10 ~ 10 seconds between acquire attempts when the queue is empty.
var maxMultiplier = math.Pow(2, 10)

// DefaultConcurrency is the number of dequeuers started when no ceiling is
// configured.
const DefaultConcurrency = 4

// A Worker does some work with an acquired QueueEntry. Worker
// implementations are shared between dequeuers and must be threadsafe.
type Worker interface {
	// DoWork performs the entry's action and settles the entry: on
	// success the entry is rescheduled or consumed, on failure it is
	// handed to the retry policy. Returned errors are logged, nothing
	// else is done with them.
	DoWork(*models.QueueEntry) error
}

// CreatePool creates a Pool with concurrency dequeuers, all started and
// sharing the Worker w. The concurrency ceiling bounds how many entries are
// processed in parallel.
func CreatePool(w Worker, concurrency int) (*Pool, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	p := NewPool()
	for i := 0; i < concurrency; i++ {
		if err := p.AddDequeuer(w); err != nil {
			return p, err
		}
	}
	return p, nil
}

func NewPool() *Pool {
	return &Pool{}
}

// A Pool contains an array of dequeuers, all of which acquire entries from
// the same execution queue.
type Pool struct {
	Dequeuers              []*Dequeuer
	receivedShutdownSignal bool
	mu                     sync.Mutex
	wg                     sync.WaitGroup
}

type Dequeuer struct {
	ID       int
	QuitChan chan bool
	W        Worker
	// How long to sleep if there is no work to do.
	sleepFactor float64
}

var emptyPool = errors.New("No workers left to dequeue")
var poolShutdown = errors.New("Cannot add worker because the pool is shutting down")

// AddDequeuer adds a Dequeuer to the Pool and starts it. w is the work the
// Dequeuer will do with an acquired entry.
func (p *Pool) AddDequeuer(w Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receivedShutdownSignal {
		return poolShutdown
	}
	d := &Dequeuer{
		ID:          len(p.Dequeuers) + 1,
		QuitChan:    make(chan bool, 1),
		W:           w,
		sleepFactor: defaultSleepFactor,
	}
	p.Dequeuers = append(p.Dequeuers, d)
	p.wg.Add(1)
	go d.Work(&p.wg)
	return nil
}

// RemoveDequeuer removes a dequeuer from the pool and sends that dequeuer a
// shutdown signal.
func (p *Pool) RemoveDequeuer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Dequeuers) == 0 {
		return emptyPool
	}
	dq := p.Dequeuers[0]
	p.Dequeuers = append(p.Dequeuers[:0], p.Dequeuers[1:]...)
	dq.QuitChan <- true
	close(dq.QuitChan)
	return nil
}

// Shutdown all dequeuers in the pool and wait for their in-flight work to
// finish.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	p.receivedShutdownSignal = true
	l := len(p.Dequeuers)
	p.mu.Unlock()
	for i := 0; i < l; i++ {
		if err := p.RemoveDequeuer(); err != nil {
			return err
		}
	}
	p.wg.Wait()
	return nil
}

// jitter returns a value that's around the given val, but not exactly it.
// The jitter is randomly chosen between 0.8 and 1.2 times the given value,
// evenly distributed.
func jitter(val float64) float64 {
	return val*0.8 + rand.Float64()*0.2*2*val
}

func (d *Dequeuer) Work(wg *sync.WaitGroup) {
	defer wg.Done()
	failedAcquireCount := 0
	waitDuration := time.Duration(jitter(float64(500 * time.Millisecond)))
	for {
		select {
		case <-d.QuitChan:
			log.Info().Int("dequeuer", d.ID).Msg("dequeuer quitting")
			return

		case <-time.After(waitDuration):
			start := time.Now()
			entry, err := queue.Acquire()
			go metrics.Time("acquire.latency", time.Since(start))
			if err == nil {
				failedAcquireCount = 0
				waitDuration = time.Duration(0)
				if err := d.W.DoWork(entry); err != nil {
					log.Error().Err(err).Str("entry_id", entry.EntryID).
						Msg("error processing entry")
					go metrics.Increment("dequeue.error")
				} else {
					go metrics.Increment("dequeue.success")
				}
				continue
			}
			var dberr *dberror.Error
			if errors.As(err, &dberr) && dberr.Code == dberror.CodeLockNotAvailable {
				// The SELECT found a row but another dequeuer got the
				// lock. Don't sleep at all.
				go metrics.Increment("dequeue.nowait")
				failedAcquireCount = 0
				waitDuration = time.Duration(0)
				continue
			}
			if err != sql.ErrNoRows {
				log.Error().Err(err).Msg("error acquiring queue entry")
				go metrics.Increment("dequeue.acquire.error")
			}

			failedAcquireCount++
			multiplier := math.Pow(d.sleepFactor, float64(failedAcquireCount))
			if multiplier > maxMultiplier {
				multiplier = maxMultiplier
			}
			multiplier = jitter(multiplier)
			waitDuration = 10 * time.Duration(multiplier) * time.Millisecond
		}
	}
}
