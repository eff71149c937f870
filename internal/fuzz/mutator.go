package fuzz

import (
	"math/rand/v2"
)

const (
	havocStackPow = 5
	arithMax      = 35
)

// mutator implements a havoc stage: a random stack of small edits.
type mutator struct {
	rng     *rand.Rand
	tokens  [][]byte
	maxSize int
}

// mutate returns an edited copy of data. other, when non-empty, is a splice partner.
func (m *mutator) mutate(data, other []byte) []byte {
	out := append([]byte(nil), data...)
	if len(out) == 0 {
		out = []byte{0}
	}

	stack := 1 << (1 + m.rng.IntN(havocStackPow))
	for range stack {
		switch m.rng.IntN(7) {
		case 0:
			out = m.flipBit(out)
		case 1:
			out[m.rng.IntN(len(out))] = byte(m.rng.UintN(256))
		case 2:
			out = m.arith(out)
		case 3:
			out = m.deleteBlock(out)
		case 4:
			out = m.cloneBlock(out)
		case 5:
			out = m.insertToken(out)
		case 6:
			out = m.splice(out, other)
		}
	}

	if m.maxSize > 0 && len(out) > m.maxSize {
		out = out[:m.maxSize]
	}
	return out
}

func (m *mutator) flipBit(out []byte) []byte {
	bit := m.rng.IntN(len(out) * 8)
	out[bit/8] ^= 0x80 >> (bit % 8)
	return out
}

func (m *mutator) arith(out []byte) []byte {
	pos := m.rng.IntN(len(out))
	delta := byte(1 + m.rng.IntN(arithMax))
	if m.rng.IntN(2) == 0 {
		out[pos] += delta
	} else {
		out[pos] -= delta
	}
	return out
}

func (m *mutator) deleteBlock(out []byte) []byte {
	if len(out) < 2 {
		return out
	}
	n := 1 + m.rng.IntN(len(out)-1)
	pos := m.rng.IntN(len(out) - n + 1)
	return append(out[:pos], out[pos+n:]...)
}

func (m *mutator) cloneBlock(out []byte) []byte {
	n := 1 + m.rng.IntN(len(out))
	from := m.rng.IntN(len(out) - n + 1)
	to := m.rng.IntN(len(out) + 1)
	block := append([]byte(nil), out[from:from+n]...)
	return insert(out, to, block)
}

func (m *mutator) insertToken(out []byte) []byte {
	if len(m.tokens) == 0 {
		return m.flipBit(out)
	}
	token := m.tokens[m.rng.IntN(len(m.tokens))]
	pos := m.rng.IntN(len(out) + 1)
	if m.rng.IntN(2) == 0 && pos+len(token) <= len(out) {
		copy(out[pos:], token)
		return out
	}
	return insert(out, pos, token)
}

func (m *mutator) splice(out, other []byte) []byte {
	if len(other) < 2 || len(out) < 2 {
		return m.cloneBlock(out)
	}
	cut := 1 + m.rng.IntN(min(len(out), len(other))-1)
	return append(out[:cut:cut], other[cut:]...)
}

func insert(dst []byte, pos int, block []byte) []byte {
	out := make([]byte, 0, len(dst)+len(block))
	out = append(out, dst[:pos]...)
	out = append(out, block...)
	return append(out, dst[pos:]...)
}
