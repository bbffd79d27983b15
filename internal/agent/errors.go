package agent

import (
	"errors"
	"fmt"
)

// ErrSinkClosed indicates the event consumer stopped accepting events.
// The router treats it like cancellation: no further tool calls or
// model turns are issued.
var ErrSinkClosed = errors.New("event sink closed")

// InvalidArgumentsError reports model-proposed arguments that failed
// validation against the tool's input schema. The tool was not
// executed; a synthesized failure note is substituted as its result.
type InvalidArgumentsError struct {
	Tool string
	Args map[string]any
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// ToolExecutionError reports a tool handler failure. TimedOut is set
// when the per-invocation timeout elapsed before the handler returned.
type ToolExecutionError struct {
	Tool     string
	Err      error
	TimedOut bool
}

func (e *ToolExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("tool %q timed out: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
