package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one real-time message relayed to every connected client.
type Event struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submissionId,omitempty"`
	Message      string    `json:"message,omitempty"`
	Output       string    `json:"output,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	EventStarted    = "agent_started"
	EventProgress   = "agent_progress"
	EventOutput     = "agent_output"
	EventError      = "agent_error"
	EventFailed     = "agent_failed"
	EventTimedOut   = "agent_timeout"
	EventThrottling = "throttling_error"
)

// Broadcaster fans an event out to all real-time subscribers.
type Broadcaster interface {
	Broadcast(Event)
}

// PromptRecorder tracks prompt usage for the suggestions UI.
type PromptRecorder interface {
	Record(text string) error
}

// ProcessRunner is the agent-invocation surface; Runner implements it.
type ProcessRunner interface {
	Run(ctx context.Context, prompt string, onStderr func(StderrClass, string)) (string, error)
}

// submission tracks one analysis request. The delivered flag is the
// single completion guard: whichever delivery path flips it first owns
// the result, every later attempt is a silent no-op.
type submission struct {
	id        string
	prompt    string
	startedAt time.Time
	delivered atomic.Bool
}

// Orchestrator runs one agent process per submission and guarantees each
// submission delivers at most one result, no matter how many of the
// delivery paths (process completion, disconnect-recovery probe, sync
// fallback) race to report it.
type Orchestrator struct {
	runner   ProcessRunner
	hub      Broadcaster
	register Register
	prompts  PromptRecorder
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]*submission
}

func NewOrchestrator(runner ProcessRunner, hub Broadcaster, register Register, prompts PromptRecorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		runner:   runner,
		hub:      hub,
		register: register,
		prompts:  prompts,
		logger:   logger,
		subs:     make(map[string]*submission),
	}
}

// Start validates and accepts a submission, broadcasts the start event
// and kicks off the agent in the background. Prompt usage is recorded on
// acceptance, before the analysis can succeed or fail.
func (o *Orchestrator) Start(submissionID, prompt string) error {
	if err := ValidatePrompt(prompt); err != nil {
		return err
	}

	o.recordPrompt(prompt)

	sub := &submission{id: submissionID, prompt: prompt, startedAt: time.Now()}
	o.mu.Lock()
	o.subs[submissionID] = sub
	o.mu.Unlock()

	o.broadcast(Event{Type: EventStarted, SubmissionID: submissionID, Message: "Analysis started"})

	go o.run(sub)
	return nil
}

func (o *Orchestrator) recordPrompt(prompt string) {
	if o.prompts == nil {
		return
	}
	if err := o.prompts.Record(prompt); err != nil {
		o.logger.Warn("recording prompt usage", "error", err)
	}
}

// run drives one submission to a terminal state. It deliberately uses a
// background context: the initiating HTTP request was acknowledged long
// ago and client disconnects must not cancel the agent, whose output is
// still wanted for the recovery side channel.
func (o *Orchestrator) run(sub *submission) {
	html, err := o.runner.Run(context.Background(), sub.prompt, func(class StderrClass, line string) {
		switch class {
		case StderrThrottling:
			o.broadcast(Event{Type: EventThrottling, SubmissionID: sub.id, Message: line})
		case StderrValidation:
			o.broadcast(Event{Type: EventProgress, SubmissionID: sub.id, Message: line})
		case StderrError:
			o.broadcast(Event{Type: EventError, SubmissionID: sub.id, Message: line})
		default:
			o.broadcast(Event{Type: EventProgress, SubmissionID: sub.id, Message: line})
		}
	})

	if err != nil {
		if errors.Is(err, ErrTimeout) {
			o.fail(sub, EventTimedOut, err.Error())
		} else {
			o.fail(sub, EventFailed, err.Error())
		}
		return
	}

	o.Deliver(sub.id, html)
}

// Deliver attempts the single completion transition for a submission.
// Returns true only for the caller that won; unknown ids and repeat
// deliveries return false without side effects.
func (o *Orchestrator) Deliver(submissionID, html string) bool {
	o.mu.Lock()
	sub, ok := o.subs[submissionID]
	o.mu.Unlock()
	if !ok {
		return false
	}

	if !sub.delivered.CompareAndSwap(false, true) {
		return false
	}

	rec := Record{
		SubmissionID: sub.id,
		Prompt:       sub.prompt,
		HTML:         html,
		CompletedAt:  time.Now(),
	}
	if err := o.register.Store(context.Background(), rec); err != nil {
		o.logger.Warn("storing analysis result", "submission_id", sub.id, "error", err)
	}

	o.broadcast(Event{Type: EventOutput, SubmissionID: sub.id, Output: html})
	o.logger.Info("analysis delivered", "submission_id", sub.id, "elapsed", time.Since(sub.startedAt))

	o.forget(sub.id)
	return true
}

func (o *Orchestrator) fail(sub *submission, eventType, message string) {
	if !sub.delivered.CompareAndSwap(false, true) {
		return
	}
	o.broadcast(Event{Type: eventType, SubmissionID: sub.id, Message: message})
	o.logger.Error("analysis failed", "submission_id", sub.id, "event", eventType, "error", message)
	o.forget(sub.id)
}

func (o *Orchestrator) forget(submissionID string) {
	o.mu.Lock()
	delete(o.subs, submissionID)
	o.mu.Unlock()
}

func (o *Orchestrator) broadcast(ev Event) {
	ev.Timestamp = time.Now()
	o.hub.Broadcast(ev)
}

// RunSync is the synchronous fallback path: a fresh agent invocation
// whose result goes back in the HTTP response. When the caller names a
// still-open submission, the result also goes through the same guarded
// delivery, so a racing real-time completion cannot double-deliver.
func (o *Orchestrator) RunSync(ctx context.Context, submissionID, prompt string) (string, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return "", err
	}
	o.recordPrompt(prompt)

	html, err := o.runner.Run(ctx, prompt, nil)
	if err != nil {
		return "", err
	}

	if submissionID != "" {
		o.Deliver(submissionID, html)
	}
	return html, nil
}

// Result serves the disconnect-recovery probe from the side-channel
// register.
func (o *Orchestrator) Result(ctx context.Context, submissionID string) (*Record, error) {
	return o.register.Load(ctx, submissionID)
}
