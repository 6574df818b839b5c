// Package sequencer lets many producers write concurrently while the sink
// sees their output as if they had run one after another in the order they
// were begun.
//
// Each producer owns a Task. Output written to the earliest unfinished task
// (the head) reaches the sink immediately; output of later tasks is buffered
// until every earlier task has finished. A task may also Hold its output:
// held writes are buffered privately and are discarded if the task finishes
// without calling Release, so a producer can decide after the fact that it
// has nothing worth showing.
//
// All bookkeeping and all sink writes happen under a single mutex.
package sequencer

import (
	"bytes"
	"io"
	"sync"
)

// Gate is the hold/release state of a task.
type Gate int

const (
	// Open writes are delivered in turn.
	Open Gate = iota
	// Held writes accumulate privately and are not delivered.
	Held
	// Released behaves like Open; the held buffer has become deliverable.
	Released
)

func (g Gate) String() string {
	switch g {
	case Open:
		return "open"
	case Held:
		return "held"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Sequencer orders the output of its tasks onto one sink.
type Sequencer struct {
	mu    sync.Mutex
	sink  io.Writer
	queue []*Task // unfinished or not yet flushed, in index order; queue[0] is the head
	next  int
	err   error
}

// New returns a Sequencer writing to sink.
func New(sink io.Writer) *Sequencer {
	return &Sequencer{sink: sink}
}

// Begin registers a new task behind every task begun so far.
func (s *Sequencer) Begin() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Task{seq: s, index: s.next}
	s.next++
	s.queue = append(s.queue, t)
	return t
}

// Pending returns the number of tasks that have not finished yet.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.queue {
		if !t.finished {
			n++
		}
	}
	return n
}

// Err returns the first error returned by the sink. Output that could not be
// delivered after that point is dropped.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// advance flushes the head's deliverable output and moves the head past
// every finished task. Callers hold s.mu.
func (s *Sequencer) advance() {
	for len(s.queue) > 0 {
		head := s.queue[0]
		s.deliver(&head.ready)
		if !head.finished {
			return
		}
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}
}

func (s *Sequencer) deliver(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}
	if s.err == nil {
		if _, err := s.sink.Write(buf.Bytes()); err != nil {
			s.err = err
		}
	}
	buf.Reset()
}

// Task is one producer's slot. It is an io.Writer; all methods are safe to
// call from the producer's goroutine concurrently with other tasks.
type Task struct {
	seq      *Sequencer
	index    int
	gate     Gate
	ready    bytes.Buffer // deliverable, waiting for this task to become head
	held     bytes.Buffer // written while Held
	finished bool
}

// Index is the task's position in submission order.
func (t *Task) Index() int { return t.index }

// Gate returns the task's current gate.
func (t *Task) Gate() Gate {
	t.seq.mu.Lock()
	defer t.seq.mu.Unlock()
	return t.gate
}

// Write queues p for delivery, or buffers it privately while the task is
// held. Writing to a finished task panics.
func (t *Task) Write(p []byte) (int, error) {
	s := t.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	t.mustBeLive("Write")
	if t.gate == Held {
		t.held.Write(p)
		return len(p), nil
	}
	t.ready.Write(p)
	s.advance()
	return len(p), nil
}

// Hold starts buffering writes privately. It has no effect once the task has
// been released.
func (t *Task) Hold() {
	s := t.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	t.mustBeLive("Hold")
	if t.gate == Open {
		t.gate = Held
	}
}

// Release makes everything written while held deliverable, in write order,
// and turns later writes into ordinary in-turn writes. Releasing more than
// once is the same as releasing once.
func (t *Task) Release() {
	s := t.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	t.mustBeLive("Release")
	if t.gate == Released {
		return
	}
	if t.gate == Held {
		t.ready.Write(t.held.Bytes())
		t.held.Reset()
	}
	t.gate = Released
	s.advance()
}

// Finish marks the producer as done. Anything still held is discarded. If
// this task is the head, the turn passes to the next unfinished task and
// its buffered output is flushed. Finish is idempotent so it can be
// deferred.
func (t *Task) Finish() {
	s := t.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	t.held.Reset()
	s.advance()
}

func (t *Task) mustBeLive(op string) {
	if t.finished {
		panic("sequencer: " + op + " on finished task")
	}
}
