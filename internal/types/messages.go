package types

import "b3hybrid/internal/coverage"

type CrashMessage struct {
	CrashFile string // path to the crash file on local filesystem
	Kind      string // "crash" or "hang"
	Target    *Target
}

type SeedMessage struct {
	SeedFile   string
	Generation uint64
	Target     *Target
}

type CminMessage struct {
	SessionID    string `json:"session_id"`
	Harness      string `json:"harness"`
	SeedBlobPath string `json:"seeds"`
}

type RunStatus int

const (
	RunOk RunStatus = iota
	RunCrash
	RunTimeout
)

func (s RunStatus) String() string {
	switch s {
	case RunOk:
		return "ok"
	case RunCrash:
		return "crash"
	case RunTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Candidate is an input the fuzz phase found worth grading.
type Candidate struct {
	Data     []byte
	Status   RunStatus
	Edges    []coverage.Edge // every edge the run hit
	NewEdges []coverage.Edge // edges that showed a new hit-count bucket
	Parent   int             // queue id of the mutated seed, -1 when none
}
