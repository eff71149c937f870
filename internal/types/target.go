package types

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Target is the program under test for one session. It stamps every record
// and message that leaves the process.
type Target struct {
	SessionID string `json:"session_id"`
	Program   string `json:"program"`
	Harness   string `json:"harness"` // base name of the program
}

func NewTarget(program string) *Target {
	return &Target{
		SessionID: uuid.NewString(),
		Program:   program,
		Harness:   filepath.Base(program),
	}
}
