package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/gattc/internal/client"
)

// DefaultRecent is how many events a Recorder keeps in memory.
const DefaultRecent uint32 = 256

// Stats counts what a Recorder has seen.
type Stats struct {
	Recorded    int64
	Overwritten int64
}

// Recorder appends events to a CBOR stream and keeps the most recent ones
// in an overlapping ring, oldest dropped first.
type Recorder struct {
	mu  sync.Mutex
	enc interface{ Encode(any) error }

	recent mpmc.RichOverlappedRingBuffer[client.Event]

	recorded    atomic.Int64
	overwritten atomic.Int64
}

// NewRecorder writes to w, which may be nil to keep events in memory only.
func NewRecorder(w io.Writer, recent uint32) *Recorder {
	if recent == 0 {
		recent = DefaultRecent
	}
	r := &Recorder{recent: mpmc.NewOverlappedRingBuffer[client.Event](recent)}
	if w != nil {
		r.enc = NewEncoder(w)
	}
	return r
}

// Record stores one event.
func (r *Recorder) Record(ev client.Event) error {
	if r.enc != nil {
		r.mu.Lock()
		err := r.enc.Encode(ev)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Kind, err)
		}
	}

	overwrites, err := r.recent.EnqueueM(ev)
	if err != nil {
		return fmt.Errorf("buffer %s event: %w", ev.Kind, err)
	}
	r.overwritten.Add(int64(overwrites))
	r.recorded.Add(1)
	return nil
}

// Run records everything from sub until the subscription closes or ctx ends.
func (r *Recorder) Run(ctx context.Context, sub *client.Subscription) error {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := r.Record(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Drain removes and returns the buffered events, oldest first.
func (r *Recorder) Drain() ([]client.Event, error) {
	var out []client.Event
	for !r.recent.IsEmpty() {
		ev, err := r.recent.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Recorder) Stats() Stats {
	return Stats{Recorded: r.recorded.Load(), Overwritten: r.overwritten.Load()}
}

// Replay decodes a recorded stream and hands each event to fn in order.
// It stops at the end of the stream or at the first error from fn.
func Replay(rd io.Reader, fn func(client.Event) error) error {
	dec := NewDecoder(rd)
	for {
		var ev client.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
