package entity

type SessionPhase string

const (
	PhaseIdle             SessionPhase = "idle"
	PhaseCommandReceived  SessionPhase = "command_received"
	PhaseExecuting        SessionPhase = "executing"
	PhaseAwaitingPageData SessionPhase = "awaiting_page_data"
	PhaseResultSent       SessionPhase = "result_sent"
)

// ConnectionSnapshot is the last authentication payload pushed by the backend.
type ConnectionSnapshot struct {
	Items        []*Object
	ConnectionID string
}

// SessionState is a copy of the executor's bookkeeping, safe to read outside
// the session queue.
type SessionState struct {
	Phase                 SessionPhase
	CurrentCommand        *Command
	LastWaitCommand       *Command
	ExecutingWaitCommand  *Command
	LastUserActionCommand *Command
	CurrentSuccessURLs    []SuccessURL
	ActiveSurface         Surface
	Connection            *ConnectionSnapshot
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

type CommandResult struct {
	ID       string       `json:"id"`
	Status   ResultStatus `json:"status"`
	Data     *Value       `json:"data,omitempty"`
	PageData *PageData    `json:"pageData,omitempty"`
	Error    string       `json:"error,omitempty"`
}
