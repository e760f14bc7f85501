package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type collectorHub struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectorHub) Broadcast(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectorHub) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (c *collectorHub) last(eventType string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == eventType {
			return c.events[i], true
		}
	}
	return Event{}, false
}

// fakeRunner blocks until released, then returns the configured result.
type fakeRunner struct {
	release chan struct{}
	html    string
	err     error
	stderr  []string
}

func newFakeRunner(html string, err error) *fakeRunner {
	return &fakeRunner{release: make(chan struct{}), html: html, err: err}
}

func (f *fakeRunner) Run(ctx context.Context, prompt string, onStderr func(StderrClass, string)) (string, error) {
	for _, line := range f.stderr {
		if onStderr != nil {
			onStderr(ClassifyStderr(line), line)
		}
	}
	<-f.release
	return f.html, f.err
}

type recordingPrompts struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingPrompts) Record(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, text)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOrchestrator_SuccessPath(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("<p>report</p>", nil)
	reg := NewMemoryRegister()
	prompts := &recordingPrompts{}
	o := NewOrchestrator(runner, hub, reg, prompts, nil)

	if err := o.Start("sub-1", "summarize upcoming maintenance"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := hub.count(EventStarted); got != 1 {
		t.Fatalf("expected one started event, got %d", got)
	}

	close(runner.release)
	waitFor(t, func() bool { return hub.count(EventOutput) == 1 })

	ev, _ := hub.last(EventOutput)
	if ev.Output != "<p>report</p>" || ev.SubmissionID != "sub-1" {
		t.Errorf("unexpected output event: %+v", ev)
	}

	rec, err := reg.Load(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.HTML != "<p>report</p>" || rec.Prompt != "summarize upcoming maintenance" {
		t.Errorf("unexpected record: %+v", rec)
	}

	if len(prompts.prompts) != 1 {
		t.Errorf("expected prompt usage recorded once, got %d", len(prompts.prompts))
	}
}

// A recovery delivery racing the real-time completion must produce exactly
// one result for the submission.
func TestOrchestrator_ExactlyOnceAcrossRacingPaths(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("<p>realtime</p>", nil)
	reg := NewMemoryRegister()
	o := NewOrchestrator(runner, hub, reg, nil, nil)

	if err := o.Start("sub-race", "how many cost events this month"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Recovery path wins while the process is still running.
	if !o.Deliver("sub-race", "<p>recovered</p>") {
		t.Fatal("expected recovery delivery to win")
	}

	// Real-time completion now loses the race.
	close(runner.release)
	time.Sleep(50 * time.Millisecond)

	if got := hub.count(EventOutput); got != 1 {
		t.Fatalf("expected exactly one output event, got %d", got)
	}
	rec, err := reg.Load(context.Background(), "sub-race")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.HTML != "<p>recovered</p>" {
		t.Errorf("expected the winning result to be recorded, got %q", rec.HTML)
	}
}

func TestOrchestrator_ConcurrentDeliverOneWinner(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("", errors.New("unused"))
	o := NewOrchestrator(runner, hub, NewMemoryRegister(), nil, nil)

	o.mu.Lock()
	o.subs["sub-c"] = &submission{id: "sub-c", prompt: "p", startedAt: time.Now()}
	o.mu.Unlock()

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- o.Deliver("sub-c", "<p>x</p>")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one winning delivery, got %d", won)
	}
	if got := hub.count(EventOutput); got != 1 {
		t.Errorf("expected exactly one output event, got %d", got)
	}
}

func TestOrchestrator_DeliverUnknownSubmission(t *testing.T) {
	o := NewOrchestrator(newFakeRunner("", nil), &collectorHub{}, NewMemoryRegister(), nil, nil)
	if o.Deliver("never-started", "<p>x</p>") {
		t.Error("expected delivery to an unknown submission to be a no-op")
	}
}

func TestOrchestrator_FailureBroadcastsFailed(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("", errors.New("process exploded"))
	reg := NewMemoryRegister()
	o := NewOrchestrator(runner, hub, reg, nil, nil)

	if err := o.Start("sub-f", "valid prompt"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(runner.release)
	waitFor(t, func() bool { return hub.count(EventFailed) == 1 })

	if hub.count(EventOutput) != 0 {
		t.Error("failed run must not emit an output event")
	}
	if _, err := reg.Load(context.Background(), "sub-f"); !errors.Is(err, ErrNoResult) {
		t.Errorf("failed run must not record a result, got %v", err)
	}
}

func TestOrchestrator_TimeoutBroadcastsTimeout(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("", ErrTimeout)
	o := NewOrchestrator(runner, hub, NewMemoryRegister(), nil, nil)

	if err := o.Start("sub-t", "valid prompt"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(runner.release)
	waitFor(t, func() bool { return hub.count(EventTimedOut) == 1 })

	if hub.count(EventFailed) != 0 {
		t.Error("timeout must be reported as a timeout, not a generic failure")
	}
}

func TestOrchestrator_StderrClassesMapToEvents(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("<p>ok</p>", nil)
	runner.stderr = []string{
		"INFO scanning table",
		"Rate exceeded for model invocation",
		"ValidationException: query validation failed",
		"something unexpected broke",
	}
	o := NewOrchestrator(runner, hub, NewMemoryRegister(), nil, nil)

	if err := o.Start("sub-s", "valid prompt"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(runner.release)
	waitFor(t, func() bool { return hub.count(EventOutput) == 1 })

	if got := hub.count(EventThrottling); got != 1 {
		t.Errorf("expected one throttling event, got %d", got)
	}
	if got := hub.count(EventError); got != 1 {
		t.Errorf("expected one error event, got %d", got)
	}
	// The info line and the validation complaint both surface as progress.
	if got := hub.count(EventProgress); got != 2 {
		t.Errorf("expected two progress events, got %d", got)
	}
}

func TestOrchestrator_RejectsInvalidPrompt(t *testing.T) {
	hub := &collectorHub{}
	o := NewOrchestrator(newFakeRunner("", nil), hub, NewMemoryRegister(), nil, nil)

	if err := o.Start("sub-bad", "run $(reboot)"); !errors.Is(err, ErrInvalidPrompt) {
		t.Fatalf("expected ErrInvalidPrompt, got %v", err)
	}
	if len(hub.events) != 0 {
		t.Error("rejected submission must not broadcast anything")
	}
	if o.Deliver("sub-bad", "<p>x</p>") {
		t.Error("rejected submission must not be deliverable")
	}
}

func TestOrchestrator_RunSyncDeliversToOpenSubmission(t *testing.T) {
	hub := &collectorHub{}
	runner := newFakeRunner("<p>sync</p>", nil)
	close(runner.release)
	reg := NewMemoryRegister()
	o := NewOrchestrator(runner, hub, reg, nil, nil)

	o.mu.Lock()
	o.subs["sub-sync"] = &submission{id: "sub-sync", prompt: "p", startedAt: time.Now()}
	o.mu.Unlock()

	html, err := o.RunSync(context.Background(), "sub-sync", "valid prompt")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if html != "<p>sync</p>" {
		t.Errorf("unexpected html: %q", html)
	}
	if got := hub.count(EventOutput); got != 1 {
		t.Errorf("expected one output event, got %d", got)
	}
	if _, err := reg.Load(context.Background(), "sub-sync"); err != nil {
		t.Errorf("expected recorded result, got %v", err)
	}
}

func TestOrchestrator_ResultProbe(t *testing.T) {
	reg := NewMemoryRegister()
	o := NewOrchestrator(newFakeRunner("", nil), &collectorHub{}, reg, nil, nil)

	if _, err := o.Result(context.Background(), "missing"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}

	reg.Store(context.Background(), Record{SubmissionID: "done", HTML: "<p>r</p>"})
	rec, err := o.Result(context.Background(), "done")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if rec.HTML != "<p>r</p>" {
		t.Errorf("unexpected record: %+v", rec)
	}
}
