package telemetry

type ActionCategory int

const (
	Fuzzing ActionCategory = iota
	Grading
	Handshake
	Syncing
	Session
)

func (a ActionCategory) String() string {
	switch a {
	case Fuzzing:
		return "fuzzing"
	case Grading:
		return "grading"
	case Handshake:
		return "handshake"
	case Syncing:
		return "syncing"
	case Session:
		return "session"
	default:
		return "unknown"
	}
}
