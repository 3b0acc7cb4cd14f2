package loop

import "fmt"

// State is the phase of a reasoning loop. Transitions are strictly
// sequential within one loop:
//
//	Idle → AwaitingModel → {ToolCallRequested → AwaitingTool → AwaitingModel}* → terminal
//
// Terminal states are Finished, Failed and Cancelled.
type State int

const (
	// StateIdle is the state before Run is called.
	StateIdle State = iota
	// StateAwaitingModel means a model generation is in flight.
	StateAwaitingModel
	// StateToolCallRequested means the model returned tool-call directives
	// that are being validated.
	StateToolCallRequested
	// StateAwaitingTool means tool invocations are in flight.
	StateAwaitingTool
	// StateFinished is the terminal state carrying a final answer.
	StateFinished
	// StateFailed is the terminal state carrying a failure reason.
	StateFailed
	// StateCancelled is the terminal state after caller cancellation or a
	// query deadline.
	StateCancelled
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateToolCallRequested:
		return "tool_call_requested"
	case StateAwaitingTool:
		return "awaiting_tool"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends a loop.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCancelled
}
