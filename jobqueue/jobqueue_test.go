package jobqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsJobsInFIFOOrder(t *testing.T) {
	q := New()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue("peer1", func() (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
		}()
		time.Sleep(time.Millisecond) // keep enqueue order deterministic
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("jobs ran out of FIFO order: %v", order)
		}
	}
}

func TestDifferentBucketsRunConcurrently(t *testing.T) {
	q := New()
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	go q.Enqueue("peerA", func() (interface{}, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	go q.Enqueue("peerB", func() (interface{}, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both buckets to start concurrently")
		}
	}
	close(release)
}

func TestJobTimeoutContinuesWithNextJob(t *testing.T) {
	q := New()
	q.Timeout = 10 * time.Millisecond

	_, err := q.Enqueue("peer1", func() (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	require.Equal(t, ErrJobTimeout, err)

	v, err := q.Enqueue("peer1", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestQueueEmptiesBucketEntryAfterDraining(t *testing.T) {
	q := New()
	q.Enqueue("peer1", func() (interface{}, error) { return nil, nil })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		_, exists := q.buckets["peer1"]
		q.mu.Unlock()
		if !exists {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("bucket entry was never removed after draining")
}

func TestSpliceAtTenThousandDrainedItems(t *testing.T) {
	q := New()
	var count atomic.Int64

	for i := 0; i < 10001; i++ {
		_, err := q.Enqueue("peer1", func() (interface{}, error) {
			count.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.EqualValues(t, 10001, count.Load())
}
