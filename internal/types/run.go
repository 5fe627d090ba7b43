package types

// RunStatus is the lifecycle state of an assistant run, as reported by the
// upstream service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusExpired        RunStatus = "expired"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// IsPending returns true while the upstream is still working on the run
// and the caller should poll again.
func (s RunStatus) IsPending() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states the run can never leave.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusExpired, RunStatusCancelled, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // populated only when Status is requires_action
	LastError string
}

// ToolCall is a function invocation requested by a run.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

type ToolOutput struct {
	ToolCallID string
	Output     string
}

// ThreadMessage is a message stored on an upstream thread. Content holds the
// text blocks of the message joined by newlines.
type ThreadMessage struct {
	ID      string
	Role    Role
	Content string
}

// AssistantSpec is the configuration sent upstream when creating an assistant.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
	Temperature  float64
	TopP         float64
	Tools        []Tool
}
