package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlushDeliversAccumulatedPayloadsPerChannel(t *testing.T) {
	bs := New(5 * time.Millisecond)
	got := make(chan map[string][]interface{}, 1)
	bs.Process("test", func(batch map[string][]interface{}) {
		got <- batch
	})

	bs.Emit(MessagesUpsert, "m1")
	bs.Emit(MessagesUpsert, "m2")
	bs.Emit(ConnectionUpdate, "open")

	stop := bs.Start()
	defer stop.Close(time.Second)

	select {
	case batch := <-got:
		require.Len(t, batch[MessagesUpsert], 2)
		require.Len(t, batch[ConnectionUpdate], 1)
	case <-time.After(time.Second):
		t.Fatal("flush never delivered")
	}
}

func TestFlushSkipsEmptyBatch(t *testing.T) {
	bs := New(5 * time.Millisecond)
	calls := make(chan struct{}, 10)
	bs.Process("test", func(batch map[string][]interface{}) {
		calls <- struct{}{}
	})

	stop := bs.Start()
	defer stop.Close(time.Second)

	select {
	case <-calls:
		t.Fatal("handler invoked on an empty flush")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestUnprocessStopsDelivery(t *testing.T) {
	bs := New(5 * time.Millisecond)
	calls := make(chan struct{}, 10)
	bs.Process("test", func(batch map[string][]interface{}) {
		calls <- struct{}{}
	})
	bs.Unprocess("test")
	bs.Emit(Call, "ring")

	stop := bs.Start()
	defer stop.Close(time.Second)

	select {
	case <-calls:
		t.Fatal("handler invoked after Unprocess")
	case <-time.After(30 * time.Millisecond):
	}
}
