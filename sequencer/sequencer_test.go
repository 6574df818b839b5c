package sequencer

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHeadWritesImmediately(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	fmt.Fprint(a, "one ")
	if out.String() != "one " {
		t.Fatalf("head write not delivered immediately: %q", out.String())
	}
	fmt.Fprint(a, "two")
	a.Finish()
	if out.String() != "one two" {
		t.Fatalf("got %q", out.String())
	}
}

func TestLaterTaskWaitsForHead(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	b := s.Begin()

	fmt.Fprint(b, "B1 ")
	b.Finish()
	if out.Len() != 0 {
		t.Fatalf("later task delivered before head finished: %q", out.String())
	}
	fmt.Fprint(a, "A1 ")
	a.Finish()
	if got, want := out.String(), "A1 B1 "; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestHeldTaskIsSuppressed(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	a.Hold()
	for i := 0; i < 100; i++ {
		fmt.Fprintf(a, "line %d\n", i)
	}
	b := s.Begin()
	fmt.Fprint(b, "visible")
	a.Finish()
	b.Finish()
	if got := out.String(); got != "visible" {
		t.Fatalf("held task leaked output: %q", got)
	}
}

func TestHeldHeadDoesNotDeliverUntilRelease(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	a.Hold()
	fmt.Fprint(a, "header\n")
	if out.Len() != 0 {
		t.Fatalf("held head delivered: %q", out.String())
	}
	a.Release()
	if out.String() != "header\n" {
		t.Fatalf("release did not flush held content: %q", out.String())
	}
	fmt.Fprint(a, "match\n")
	if out.String() != "header\nmatch\n" {
		t.Fatalf("post-release write not delivered: %q", out.String())
	}
	a.Finish()
}

func TestReleaseIsIdempotent(t *testing.T) {
	run := func(releases int) string {
		var out bytes.Buffer
		s := New(&out)
		a := s.Begin()
		a.Hold()
		fmt.Fprint(a, "h ")
		for i := 0; i < releases; i++ {
			a.Release()
		}
		fmt.Fprint(a, "m ")
		for i := 0; i < releases; i++ {
			a.Release()
		}
		a.Finish()
		return out.String()
	}
	if once, twice := run(1), run(2); once != twice {
		t.Fatalf("release once = %q, twice = %q", once, twice)
	}
}

func TestHoldAfterReleaseIsNoop(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	a.Hold()
	a.Release()
	a.Hold()
	if a.Gate() != Released {
		t.Fatalf("Gate() = %v, want released", a.Gate())
	}
	fmt.Fprint(a, "x")
	a.Finish()
	if out.String() != "x" {
		t.Fatalf("got %q", out.String())
	}
}

func TestOpenWritesBeforeHoldStayVisible(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	first := s.Begin()
	a := s.Begin()
	fmt.Fprint(a, "open ")
	a.Hold()
	fmt.Fprint(a, "held ")
	a.Finish()
	first.Finish()
	if out.String() != "open " {
		t.Fatalf("got %q", out.String())
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a := s.Begin()
	b := s.Begin()
	a.Finish()
	a.Finish()
	fmt.Fprint(b, "b")
	b.Finish()
	if out.String() != "b" {
		t.Fatalf("got %q", out.String())
	}
}

func TestUseAfterFinishPanics(t *testing.T) {
	ops := map[string]func(*Task){
		"write":   func(t *Task) { _, _ = t.Write([]byte("x")) },
		"hold":    func(t *Task) { t.Hold() },
		"release": func(t *Task) { t.Release() },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			s := New(&bytes.Buffer{})
			task := s.Begin()
			task.Finish()
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
				// The lock must have been released by the panicking call.
				s.Begin().Finish()
			}()
			op(task)
		})
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("broken pipe")
}

func TestSinkErrorIsRecorded(t *testing.T) {
	w := &failingWriter{}
	s := New(w)
	a := s.Begin()
	fmt.Fprint(a, "one")
	fmt.Fprint(a, "two")
	a.Finish()
	if s.Err() == nil {
		t.Fatal("expected sink error")
	}
	if w.calls != 1 {
		t.Errorf("sink called %d times after failure, want 1", w.calls)
	}
}

// The example scenario: A finishes first with no match, C second with one
// match, B last with two matches.
func TestScenarioOutOfOrderCompletion(t *testing.T) {
	var out bytes.Buffer
	s := New(&out)
	a, b, c := s.Begin(), s.Begin(), s.Begin()
	for _, task := range []*Task{a, b, c} {
		task.Hold()
	}
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		fmt.Fprintln(a, "A header")
		a.Finish()
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		fmt.Fprintln(c, "C header")
		c.Release()
		fmt.Fprintln(c, "C match 1")
		c.Finish()
	}()
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		fmt.Fprintln(b, "B header")
		b.Release()
		fmt.Fprintln(b, "B match 1")
		fmt.Fprintln(b, "B match 2")
		b.Finish()
	}()
	wg.Wait()
	want := "B header\nB match 1\nB match 2\nC header\nC match 1\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

// For random write/release/finish interleavings the sink must equal the
// concatenation of each released task's content in index order.
func TestOrderingInvariantRandomized(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 2 + rng.Intn(10)
		var out bytes.Buffer
		s := New(&out)
		tasks := make([]*Task, n)
		want := make([]string, n)
		plans := make([]struct {
			lines   int
			release int // index of the line after which to release; -1 never
			delay   time.Duration
		}, n)
		for i := range tasks {
			tasks[i] = s.Begin()
			tasks[i].Hold()
			plans[i].lines = rng.Intn(5)
			plans[i].release = rng.Intn(plans[i].lines+2) - 1
			if plans[i].release >= plans[i].lines {
				plans[i].release = -1
			}
			plans[i].delay = time.Duration(rng.Intn(2000)) * time.Microsecond
			if plans[i].release >= 0 {
				var b strings.Builder
				for l := 0; l < plans[i].lines; l++ {
					fmt.Fprintf(&b, "%d:%d\n", i, l)
				}
				want[i] = b.String()
			}
		}
		var wg sync.WaitGroup
		for i := range tasks {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				task, p := tasks[i], plans[i]
				defer task.Finish()
				time.Sleep(p.delay)
				for l := 0; l < p.lines; l++ {
					fmt.Fprintf(task, "%d:%d\n", i, l)
					if l == p.release {
						task.Release()
					}
				}
			}(i)
		}
		wg.Wait()
		if got := out.String(); got != strings.Join(want, "") {
			t.Fatalf("seed %d: got %q, want %q", seed, got, strings.Join(want, ""))
		}
	}
}
