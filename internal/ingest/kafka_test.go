package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	mu     sync.Mutex
	script []error
	closed atomic.Bool
}

// ReadMessage returns a message for every nil entry and the error otherwise.
// Once the script is exhausted it blocks until ctx is done.
func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.script) > 0 {
		next := r.script[0]
		r.script = r.script[1:]
		r.mu.Unlock()
		if next != nil {
			return kafka.Message{}, next
		}
		return kafka.Message{Value: []byte(`{"id":"c-1"}`)}, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error {
	r.closed.Store(true)
	return nil
}

type countingTarget struct {
	n atomic.Int32
}

func (c *countingTarget) Trigger() { c.n.Add(1) }

func TestKafkaTriggerFiresPerMessageAndRetries(t *testing.T) {
	reader := &scriptedReader{script: []error{nil, errors.New("broker gone"), nil, nil}}
	target := &countingTarget{}
	trig := newKafkaTrigger(reader, target, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- trig.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for target.n.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 triggers, got %d", target.n.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if !reader.closed.Load() {
		t.Fatalf("reader not closed")
	}
}

func TestBackoff(t *testing.T) {
	if got := nextBackoff(0); got != minBackoff {
		t.Fatalf("first backoff: %s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("capped backoff: %s", got)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if BackoffSleep(ctx, time.Hour) {
		t.Fatalf("sleep ignored cancellation")
	}
}

func TestCallID(t *testing.T) {
	if got := callID([]byte(`{"call_id":"x"}`)); got != "x" {
		t.Fatalf("call_id: %q", got)
	}
	if got := callID([]byte("not json")); got != "" {
		t.Fatalf("garbage: %q", got)
	}
}
