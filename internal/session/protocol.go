package session

// Control protocol between the host and its worker process: newline-framed
// JSON on the worker's stdin (commands) and stdout (replies). Terminal
// traffic never touches these pipes (it crosses the shared memory bridge),
// so the pipes stay quiet enough to frame commands trivially.

// Command ops.
const (
	OpRun = "run"
)

// Run outcome statuses.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// Command asks the worker to do something.
type Command struct {
	Op     string `json:"op"`
	Source string `json:"source,omitempty"`
}

// Reply reports a finished command.
type Reply struct {
	Op         string `json:"op"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
