package coverage

import "sync/atomic"

// Novelty is a single-bit hand-off from the execution side to the solver
// handshake: set whenever a run reaches unseen coverage, consumed once per
// handshake signal. Repeated marks between consumptions collapse into one.
type Novelty struct {
	flag atomic.Bool
}

func (n *Novelty) Mark() {
	n.flag.Store(true)
}

// Consume reports whether novelty was pending and clears it in the same step.
func (n *Novelty) Consume() bool {
	return n.flag.Swap(false)
}

func (n *Novelty) Pending() bool {
	return n.flag.Load()
}
