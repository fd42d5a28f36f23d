package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xx-net/wacore/binarynode"
)

type recordingSender struct {
	lastPayload []byte
}

func (s *recordingSender) Send(ctx context.Context, payload []byte) error {
	s.lastPayload = payload
	return nil
}

func TestQueryResolvesOnMatchingResponse(t *testing.T) {
	sender := &recordingSender{}
	d := New(sender, "conn1")

	req := binarynode.Node{Tag: "iq", Attrs: binarynode.Attrs{"type": "get", "xmlns": "usync"}}

	resultCh := make(chan binarynode.Node, 1)
	errCh := make(chan error, 1)
	go func() {
		n, err := d.Query(context.Background(), req, time.Second)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- n
	}()

	// Wait until the waiter has been registered, then grab the id the
	// dispatcher allocated by decoding the sent payload.
	var sentID string
	for i := 0; i < 100 && sentID == ""; i++ {
		if sender.lastPayload != nil {
			n, err := binarynode.Decode(sender.lastPayload)
			if err == nil {
				sentID = n.Attrs["id"]
			}
		}
		if sentID == "" {
			time.Sleep(time.Millisecond)
		}
	}
	require.NotEmpty(t, sentID, "query never sent a node with an id")

	resp := binarynode.Node{Tag: "iq", Attrs: binarynode.Attrs{"id": sentID, "type": "result"}}
	d.Dispatch(resp)

	select {
	case n := <-resultCh:
		require.Equal(t, sentID, n.Attrs["id"])
	case err := <-errCh:
		t.Fatalf("query failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("query never resolved")
	}
}

func TestQueryTimesOut(t *testing.T) {
	d := New(&recordingSender{}, "conn1")
	req := binarynode.Node{Tag: "iq", Attrs: binarynode.Attrs{"id": "fixed-id"}}

	_, err := d.Query(context.Background(), req, 10*time.Millisecond)
	require.Equal(t, ErrTimeout, err)
}

func TestCloseAllFailsPendingWaiters(t *testing.T) {
	d := New(&recordingSender{}, "conn1")
	req := binarynode.Node{Tag: "iq", Attrs: binarynode.Attrs{"id": "fixed-id"}}

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Query(context.Background(), req, time.Second)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	d.CloseAll()

	select {
	case err := <-errCh:
		require.Equal(t, ErrConnectionClosed, err)
	case <-time.After(time.Second):
		t.Fatal("query never failed after CloseAll")
	}
}

func TestDispatchRoutesUnknownTagsWithoutPanic(t *testing.T) {
	d := New(&recordingSender{}, "conn1")
	d.Dispatch(binarynode.Node{Tag: "notification"})
}

func TestHandleRoutesByTagXmlnsType(t *testing.T) {
	d := New(&recordingSender{}, "conn1")
	got := make(chan binarynode.Node, 1)
	d.Handle("message", "", "", func(n binarynode.Node) { got <- n })

	d.Dispatch(binarynode.Node{Tag: "message", Attrs: binarynode.Attrs{"id": "1"}})

	select {
	case n := <-got:
		require.Equal(t, "1", n.Attrs["id"])
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestAssertNodeErrorFreeDetectsError(t *testing.T) {
	n := binarynode.Node{
		Tag: "iq",
		Content: []binarynode.Node{
			{Tag: "error", Attrs: binarynode.Attrs{"code": "404", "text": "not-found"}},
		},
	}
	err := AssertNodeErrorFree(n)
	require.Error(t, err)
	se, ok := err.(*ServerError)
	require.True(t, ok)
	require.Equal(t, 404, se.Code)
}

func TestAssertNodeErrorFreePassesCleanNode(t *testing.T) {
	n := binarynode.Node{Tag: "iq", Content: []binarynode.Node{{Tag: "usync"}}}
	require.NoError(t, AssertNodeErrorFree(n))
}
