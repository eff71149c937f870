package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signal is a message this process writes to the solver.
type Signal string

const (
	SignalReady  Signal = "ready"  // no new coverage since the last signal
	SignalNew    Signal = "new"    // new coverage since the last signal
	SignalSynced Signal = "synced" // a sync request was completed
)

type DirectiveKind int

const (
	DirectiveStop DirectiveKind = iota
	DirectiveSync
	DirectiveGo
	DirectiveGoN
)

const goPrefix = "go:"

// Directive is a message read from the solver.
type Directive struct {
	Kind  DirectiveKind
	Count uint32 // generations pre-authorized by go:<N>
}

var ErrMalformedDirective = errors.New("malformed directive")

// ParseDirective interprets one pipe read. Surrounding whitespace is ignored,
// literals are case-sensitive.
func ParseDirective(raw string) (Directive, error) {
	msg := strings.TrimSpace(raw)
	switch msg {
	case "stop":
		return Directive{Kind: DirectiveStop}, nil
	case "sync":
		return Directive{Kind: DirectiveSync}, nil
	case "go":
		return Directive{Kind: DirectiveGo}, nil
	}

	if count, ok := strings.CutPrefix(msg, goPrefix); ok {
		n, err := strconv.ParseUint(count, 10, 32)
		if err != nil {
			return Directive{}, fmt.Errorf("%w: %q: %w", ErrMalformedDirective, msg, err)
		}
		return Directive{Kind: DirectiveGoN, Count: uint32(n)}, nil
	}
	return Directive{}, fmt.Errorf("%w: %q", ErrMalformedDirective, msg)
}

func (d Directive) String() string {
	switch d.Kind {
	case DirectiveStop:
		return "stop"
	case DirectiveSync:
		return "sync"
	case DirectiveGo:
		return "go"
	case DirectiveGoN:
		return goPrefix + strconv.FormatUint(uint64(d.Count), 10)
	default:
		return "unknown"
	}
}
