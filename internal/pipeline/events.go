package pipeline

import (
	"sync"
	"time"
)

// StageID names every pipeline stage that emits events.
type StageID string

const (
	StageFetch      StageID = "fetch"
	StageClassify   StageID = "classify"
	StageEndpoints  StageID = "endpoints"
	StageSchema     StageID = "schema"
	StageComponents StageID = "components"
	StageSecurity   StageID = "security"
	StageWrite      StageID = "write"
	StageFinalize   StageID = "finalize"
)

const (
	StatusRunning = "running"
	StatusWaiting = "waiting"
	StatusDone    = "done"
	StatusError   = "error"
)

// Event is one pipeline transition or batch progress tick. Seq is
// assigned by the ring when the event is appended.
type Event struct {
	Seq     int64
	Stage   StageID
	Status  string
	Message string
	Detail  string
	At      time.Time
}

// Sink receives every event synchronously. It is invoked outside the
// ring's lock and must return promptly.
type Sink func(Event)

// Ring is a capped in-memory event buffer. Appends are O(1); a client
// that disconnects can replay everything it missed with Since.
type Ring struct {
	mu   sync.Mutex
	buf  []Event
	cap  int
	next int64
	sink Sink
}

const defaultRingCap = 256

func NewRing(capacity int, sink Sink) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCap
	}
	return &Ring{cap: capacity, next: 1, sink: sink}
}

// Append stamps the event with the next sequence number and stores it,
// evicting the oldest entry when the ring is full.
func (r *Ring) Append(e Event) Event {
	r.mu.Lock()
	e.Seq = r.next
	r.next++
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if len(r.buf) == r.cap {
		copy(r.buf, r.buf[1:])
		r.buf[len(r.buf)-1] = e
	} else {
		r.buf = append(r.buf, e)
	}
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(e)
	}
	return e
}

// Since returns all buffered events with Seq > seq, oldest first.
func (r *Ring) Since(seq int64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.buf))
	for _, e := range r.buf {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, if any.
func (r *Ring) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return Event{}, false
	}
	return r.buf[len(r.buf)-1], true
}
