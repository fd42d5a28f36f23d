// Package jobqueue implements a per-bucket FIFO job serializer: one
// long-running executor goroutine per active bucket key, started on
// demand and torn down once its queue drains.
package jobqueue

import (
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// DefaultTimeout is the hard per-job timeout.
const DefaultTimeout = 15 * time.Second

// spliceThreshold bounds queue memory: every this-many drained items,
// the executor splices the already-drained head out of the backing
// slice.
const spliceThreshold = 10000

// Work is the unit of execution. runOne races it against the queue's
// timeout; on expiry the goroutine running work is abandoned (Work
// carries no cancellation signal) and the executor moves on to the
// next queued job regardless.
type Work func() (interface{}, error)

type job struct {
	work    Work
	resultC chan<- result
}

type result struct {
	value interface{}
	err   error
}

type bucket struct {
	jobs    []job
	drained int
	running bool
}

// Queue is a per-connection map of bucket key to FIFO, guarded by a
// single lock: job volume through one connection's queue never
// justifies finer-grained locking, and a single lock keeps "is an
// executor running for this bucket" race-free by construction.
type Queue struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	Timeout time.Duration
}

// New builds a Queue using DefaultTimeout.
func New() *Queue {
	return &Queue{buckets: make(map[string]*bucket), Timeout: DefaultTimeout}
}

// Enqueue appends work to bucketKey's FIFO, starting an executor for
// that bucket if none is running, and returns the eventual result.
func (q *Queue) Enqueue(bucketKey string, work Work) (interface{}, error) {
	resultCh := make(chan result, 1)

	q.mu.Lock()
	b, ok := q.buckets[bucketKey]
	if !ok {
		b = &bucket{}
		q.buckets[bucketKey] = b
	}
	b.jobs = append(b.jobs, job{work: work, resultC: resultCh})
	startExecutor := !b.running
	if startExecutor {
		b.running = true
	}
	q.mu.Unlock()

	if startExecutor {
		go q.run(bucketKey, b)
	}

	r := <-resultCh
	return r.value, r.err
}

func (q *Queue) run(bucketKey string, b *bucket) {
	for {
		q.mu.Lock()
		if b.drained >= len(b.jobs) {
			b.running = false
			delete(q.buckets, bucketKey)
			q.mu.Unlock()
			return
		}
		j := b.jobs[b.drained]
		b.drained++
		if b.drained >= spliceThreshold {
			b.jobs = b.jobs[b.drained:]
			b.drained = 0
		}
		q.mu.Unlock()

		j.resultC <- q.runOne(j.work)
	}
}

func (q *Queue) runOne(work Work) result {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	done := make(chan result, 1)
	go func() {
		v, err := work()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-time.After(timeout):
		jww.WARN.Printf("jobqueue: job exceeded %s timeout", timeout)
		return result{err: ErrJobTimeout}
	}
}

// ErrJobTimeout is returned when a job exceeds its hard timeout; the
// executor continues with the next queued job regardless.
var ErrJobTimeout = jobTimeoutError{}

type jobTimeoutError struct{}

func (jobTimeoutError) Error() string { return "job exceeded queue timeout" }
