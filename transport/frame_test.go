package transport

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeFrameRoundTrip(t *testing.T) {
	payload := []byte("hello noise frame")
	framed, err := encodeFrame(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(framed) != lengthPrefixSize+len(payload) {
		t.Fatalf("unexpected frame length %d", len(framed))
	}

	r := &frameReader{}
	frames, err := r.feed(framed)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], payload) {
		t.Fatalf("got %v, want one frame %v", frames, payload)
	}
}

func TestFrameReaderSplitAcrossChunks(t *testing.T) {
	payload := []byte("split across multiple websocket reads")
	framed, err := encodeFrame(payload)
	if err != nil {
		t.Fatal(err)
	}

	r := &frameReader{}
	mid := len(framed) / 2
	frames, err := r.feed(framed[:mid])
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}
	frames, err = r.feed(framed[mid:])
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], payload) {
		t.Fatalf("got %v, want %v", frames, payload)
	}
}

func TestFrameReaderMultipleFramesInOneChunk(t *testing.T) {
	p1, _ := encodeFrame([]byte("first"))
	p2, _ := encodeFrame([]byte("second"))
	r := &frameReader{}
	frames, err := r.feed(append(p1, p2...))
	if err != nil {
		t.Fatal(err)
	}
	want := [][]byte{[]byte("first"), []byte("second")}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("got %v, want %v", frames, want)
	}
}
