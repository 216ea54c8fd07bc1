package chat

// State is the position of a conversation in the model/tool loop
type State int

const (
	StateAwaitingModel State = iota
	StateToolExecuting
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateToolExecuting:
		return "tool_executing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
