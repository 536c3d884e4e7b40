package trigger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/clip"
	"github.com/LISSConsulting/LISSTech.ReplayKing/internal/event"
)

// blockingSaver records requested durations and holds each save until
// release is closed.
type blockingSaver struct {
	release chan struct{}
	err     error

	mu        sync.Mutex
	durations []time.Duration
	started   chan struct{}
}

func newBlockingSaver() *blockingSaver {
	return &blockingSaver{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (s *blockingSaver) Save(_ context.Context, d time.Duration) (*clip.Clip, error) {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	s.mu.Unlock()
	s.started <- struct{}{}
	<-s.release
	if s.err != nil {
		return nil, s.err
	}
	return &clip.Clip{Requested: d}, nil
}

func (s *blockingSaver) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.durations...)
}

// ctxSaver blocks until its context ends and reports why.
type ctxSaver struct {
	started chan struct{}
	result  chan error
}

func (s *ctxSaver) Save(ctx context.Context, _ time.Duration) (*clip.Clip, error) {
	s.started <- struct{}{}
	<-ctx.Done()
	s.result <- ctx.Err()
	return nil, ctx.Err()
}

// eventually polls cond until it holds or d passes.
func eventually(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFireIsAsynchronous(t *testing.T) {
	saver := newBlockingSaver()
	events := make(chan event.Event, 4)
	d := NewDispatcher(saver, 120*time.Second, nil, events)

	returned := make(chan struct{})
	go func() {
		d.Fire(Request{Source: "hotkey"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Fire blocked on the save")
	}
	<-saver.started

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a save was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(saver.release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the save finished")
	}

	if got := saver.Durations(); !slices.Equal(got, []time.Duration{120 * time.Second}) {
		t.Errorf("durations = %v; a zero duration means the default", got)
	}
	e := <-events
	if e.Kind != event.SaveRequested || e.Source != "hotkey" || e.Requested != 120 {
		t.Errorf("event = %+v", e)
	}
}

func TestFireKeepsExplicitDuration(t *testing.T) {
	saver := newBlockingSaver()
	close(saver.release)
	d := NewDispatcher(saver, 120*time.Second, nil, nil)

	d.Fire(Request{Duration: 30 * time.Second, Source: "cli"})
	d.Fire(Request{Duration: -5 * time.Second, Source: "cli"})
	d.Wait()

	got := saver.Durations()
	slices.Sort(got)
	if want := []time.Duration{30 * time.Second, 120 * time.Second}; !slices.Equal(got, want) {
		t.Errorf("durations = %v, want %v", got, want)
	}
}

func TestFireAfterWaitIsDropped(t *testing.T) {
	saver := newBlockingSaver()
	close(saver.release)
	d := NewDispatcher(saver, time.Second, nil, nil)
	d.Wait()

	d.Fire(Request{Source: "late"})
	d.Wait()
	if got := saver.Durations(); len(got) != 0 {
		t.Errorf("late request ran: %v", got)
	}
}

func TestSaveErrorsDoNotPanic(t *testing.T) {
	saver := newBlockingSaver()
	saver.err = errors.New("clip: no segments found")
	close(saver.release)
	d := NewDispatcher(saver, time.Second, nil, nil)

	d.Fire(Request{})
	d.Wait()
	if n := len(saver.Durations()); n != 1 {
		t.Errorf("got %d saves, want 1", n)
	}
}

func TestShutdownWithoutSaves(t *testing.T) {
	d := NewDispatcher(newBlockingSaver(), time.Second, nil, nil)
	start := time.Now()
	if !d.Shutdown(time.Minute) {
		t.Error("Shutdown reported abandoned saves")
	}
	if time.Since(start) > time.Second {
		t.Error("Shutdown waited out the grace with nothing running")
	}
}

func TestShutdownLetsSavesFinish(t *testing.T) {
	saver := newBlockingSaver()
	d := NewDispatcher(saver, time.Second, nil, nil)
	d.Fire(Request{})
	<-saver.started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(saver.release)
	}()
	if !d.Shutdown(time.Minute) {
		t.Error("Shutdown reported abandoned saves")
	}
}

func TestShutdownCancelsSavesAfterGrace(t *testing.T) {
	saver := &ctxSaver{started: make(chan struct{}, 1), result: make(chan error, 1)}
	d := NewDispatcher(saver, time.Second, nil, nil)
	d.Fire(Request{})
	<-saver.started

	if !d.Shutdown(50 * time.Millisecond) {
		t.Fatal("a save honouring cancellation should return")
	}
	if err := <-saver.result; !errors.Is(err, context.Canceled) {
		t.Errorf("save context ended with %v, want context.Canceled", err)
	}
}

func TestShutdownAbandonsStuckSave(t *testing.T) {
	saver := newBlockingSaver()
	d := NewDispatcher(saver, time.Second, nil, nil)
	d.Fire(Request{})
	<-saver.started

	start := time.Now()
	if d.Shutdown(20 * time.Millisecond) {
		t.Fatal("Shutdown should report the stuck save")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %s", elapsed)
	}

	d.Fire(Request{Source: "late"})
	close(saver.release)
	d.Wait()
	if n := len(saver.Durations()); n != 1 {
		t.Errorf("got %d saves, want 1", n)
	}
}

type recorder struct {
	mu   sync.Mutex
	reqs []Request
}

func (r *recorder) fire(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reqs...)
}

func runSource(t *testing.T, src Source, fire func(Request)) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, fire) }()
	t.Cleanup(cancel)
	return cancel, done
}

func requireStops(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("source did not stop after cancellation")
	}
}

func TestInterval(t *testing.T) {
	var rec recorder
	cancel, done := runSource(t, Interval{Every: 10 * time.Millisecond, Duration: 30 * time.Second}, rec.fire)

	eventually(t, time.Second, func() bool { return len(rec.Requests()) >= 2 })
	requireStops(t, cancel, done)

	want := Request{Duration: 30 * time.Second, Source: "interval"}
	for _, req := range rec.Requests() {
		if req != want {
			t.Errorf("request = %+v, want %+v", req, want)
		}
	}
}

func TestIntervalDisabled(t *testing.T) {
	var rec recorder
	cancel, done := runSource(t, Interval{}, rec.fire)
	time.Sleep(30 * time.Millisecond)
	requireStops(t, cancel, done)
	if n := len(rec.Requests()); n != 0 {
		t.Errorf("disabled interval fired %d times", n)
	}
}

func TestChannel(t *testing.T) {
	var rec recorder
	ch := NewChannel("tui")
	if ch.Name() != "tui" {
		t.Errorf("Name() = %q", ch.Name())
	}
	cancel, done := runSource(t, ch, rec.fire)

	if !ch.Send(Request{}) || !ch.Send(Request{Duration: time.Minute, Source: "key"}) {
		t.Fatal("Send refused with an empty queue")
	}

	eventually(t, time.Second, func() bool { return len(rec.Requests()) == 2 })
	requireStops(t, cancel, done)
	want := []Request{{Source: "tui"}, {Duration: time.Minute, Source: "key"}}
	if got := rec.Requests(); !slices.Equal(got, want) {
		t.Errorf("requests = %+v, want %+v", got, want)
	}
}

func TestChannelSendNeverBlocks(t *testing.T) {
	ch := NewChannel("tui")
	sent := 0
	for range 10 {
		if ch.Send(Request{}) {
			sent++
		}
	}
	if sent != cap(ch.c) {
		t.Errorf("sent %d, want %d", sent, cap(ch.c))
	}
}
