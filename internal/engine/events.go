package engine

import "taskwatch/internal/poller"

// message is the closed set of inputs the engine loop consumes. Every
// variant lives in this package and the loop type-switches exhaustively.
type message interface {
	isMessage()
}

// TerminalOutcome is the download subsystem's final verdict for an event.
type TerminalOutcome string

const (
	OutcomeComplete    TerminalOutcome = "complete"
	OutcomeInterrupted TerminalOutcome = "interrupted"
)

// EventCreated reports a new download event with whatever correlation
// evidence the subsystem had at creation time. Either hint may be empty.
type EventCreated struct {
	EventID   string
	NameHint  string
	SourceRef string
}

// EventNameDetermined reports that the subsystem resolved the final name of
// an existing event. This can arrive before or after EventCreated.
type EventNameDetermined struct {
	EventID string
	Name    string
}

// EventTerminal reports the download subsystem's authoritative end state for
// an event. Only this message may complete a task.
type EventTerminal struct {
	EventID     string
	Outcome     TerminalOutcome
	ErrorDetail string
}

// triggerAcknowledged reports that the origin agent accepted a trigger.
type triggerAcknowledged struct {
	TaskID string
}

// triggerFailed reports that a trigger could not be issued.
type triggerFailed struct {
	TaskID string
	Err    error
}

// probeResult re-serializes one poller outcome into the loop.
type probeResult struct {
	res poller.Result
}

func (EventCreated) isMessage()        {}
func (EventNameDetermined) isMessage() {}
func (EventTerminal) isMessage()       {}
func (triggerAcknowledged) isMessage() {}
func (triggerFailed) isMessage()       {}
func (probeResult) isMessage()         {}
