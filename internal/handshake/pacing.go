package handshake

// Pacing counts generations the solver authorized ahead of time. It belongs
// to the goroutine that drives the handshake and is never shared.
type Pacing struct {
	remaining uint32
}

// Take consumes one pre-authorized generation if any is left.
func (p *Pacing) Take() bool {
	if p.remaining == 0 {
		return false
	}
	p.remaining--
	return true
}

func (p *Pacing) Grant(n uint32) {
	p.remaining = n
}

func (p *Pacing) Remaining() uint32 {
	return p.remaining
}
