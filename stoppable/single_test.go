package stoppable

import (
	"testing"
	"time"
)

func TestSingleCloseStopsRunner(t *testing.T) {
	s := NewSingle("worker")
	done := make(chan struct{})
	go func() {
		<-s.Quit()
		s.ToStopped()
		close(done)
	}()

	if !s.IsRunning() {
		t.Fatal("expected Single to start Running")
	}
	if err := s.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-done
	if !s.IsStopped() {
		t.Fatal("expected Single to be Stopped after Close")
	}
}

func TestSingleCloseTimesOut(t *testing.T) {
	s := NewSingle("stuck")
	// Quit() is drained but nothing calls ToStopped, so Close must time out.
	go func() { <-s.Quit() }()
	err := s.Close(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestMultiClosesAllMembers(t *testing.T) {
	m := NewMulti("pumps")
	var stopped [2]bool
	for i := range stopped {
		i := i
		s := NewSingle("pump")
		m.Add(s)
		go func() {
			<-s.Quit()
			stopped[i] = true
			s.ToStopped()
		}()
	}

	if err := m.Close(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, v := range stopped {
		if !v {
			t.Errorf("member %d was not stopped", i)
		}
	}
}
