package bridge

import (
	"fmt"
	"strings"
)

// Phase is the lifecycle position of an L2->L1 withdrawal.
type Phase string

const (
	PhaseL2Pending       Phase = "L2_PENDING"        // not in an L2 block yet
	PhaseL2Included      Phase = "L2_INCLUDED"       // L2 receipt available
	PhasePending         Phase = "PENDING"           // batch known, proof not available yet
	PhaseReadyToFinalize Phase = "READY_TO_FINALIZE" // finalize can be called on L1
	PhaseFinalizing      Phase = "FINALIZING"        // L1 finalize sent, not mined
	PhaseFinalized       Phase = "FINALIZED"
	PhaseFinalizeFailed  Phase = "FINALIZE_FAILED" // a previous L1 finalize reverted
	PhaseUnknown         Phase = "UNKNOWN"
)

// Rank orders phases by maturity. FINALIZE_FAILED ranks with
// READY_TO_FINALIZE since finalization can be attempted again; UNKNOWN ranks
// below everything.
func (p Phase) Rank() int {
	switch p {
	case PhaseL2Pending:
		return 1
	case PhaseL2Included:
		return 2
	case PhasePending:
		return 3
	case PhaseReadyToFinalize, PhaseFinalizeFailed:
		return 4
	case PhaseFinalizing:
		return 5
	case PhaseFinalized:
		return 6
	default:
		return 0
	}
}

// AtLeast reports whether p is as mature as target.
func (p Phase) AtLeast(target Phase) bool {
	if p.Rank() == 0 {
		return false
	}
	return p.Rank() >= target.Rank()
}

func (p Phase) Terminal() bool { return p == PhaseFinalized }

func (p Phase) String() string { return string(p) }

// ParseWaitTarget maps the short wait names to phases.
func ParseWaitTarget(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2":
		return PhaseL2Included, nil
	case "ready":
		return PhaseReadyToFinalize, nil
	case "finalized":
		return PhaseFinalized, nil
	}
	return "", fmt.Errorf("unknown wait target %q", s)
}
