package task

import "errors"

var (
	// ErrUnknownTask reports a task id absent from the registry.
	ErrUnknownTask = errors.New("unknown task")
	// ErrAlreadyBound reports an attempt to bind a second event to a task.
	ErrAlreadyBound = errors.New("task already bound")
	// ErrNotBindable reports a binding attempt against a task that is not
	// in progress.
	ErrNotBindable = errors.New("task not bindable")
	// ErrTerminalState reports a transition out of a terminal state without
	// an explicit reset.
	ErrTerminalState = errors.New("task in terminal state")
)
