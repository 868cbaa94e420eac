package stream

import (
	"time"

	"github.com/ultrasoundlabs/untron-v3-indexer/internal/rpc"
)

const (
	// MaxTransientRetries is how many times one window is retried after a
	// transient failure before the failure escalates.
	MaxTransientRetries = 3

	initialTransientBackoff = 250 * time.Millisecond
	maxTransientBackoff     = 2 * time.Second
)

type action int

const (
	actionRetry action = iota
	actionShrink
	actionRepair
	actionAbort
)

func (a action) String() string {
	switch a {
	case actionRetry:
		return "retry"
	case actionShrink:
		return "shrink"
	case actionRepair:
		return "repair"
	default:
		return "abort"
	}
}

// chunkPolicy holds the adaptive window size and per-window retry state of a runner.
type chunkPolicy struct {
	target  uint64
	current uint64

	attempts int
	backoff  time.Duration
}

func newChunkPolicy(target uint64) *chunkPolicy {
	if target == 0 {
		target = 1
	}
	return &chunkPolicy{
		target:  target,
		current: target,
		backoff: initialTransientBackoff,
	}
}

func (p *chunkPolicy) resetTransient() {
	p.attempts = 0
	p.backoff = initialTransientBackoff
}

// succeeded resets retry state and doubles the window back towards the target.
func (p *chunkPolicy) succeeded() {
	p.resetTransient()
	p.current = min(p.current*2, p.target)
}

// decide picks the recovery for a failed window.
func (p *chunkPolicy) decide(err error, havePinned bool) action {
	if rpc.IsTransientError(err) && p.attempts < MaxTransientRetries {
		return actionRetry
	}
	if p.current > 1 {
		return actionShrink
	}
	if havePinned {
		return actionRepair
	}
	return actionAbort
}

// nextBackoff consumes one transient attempt and returns how long to wait.
func (p *chunkPolicy) nextBackoff() time.Duration {
	d := p.backoff
	p.attempts++
	p.backoff = min(p.backoff*2, maxTransientBackoff)
	return d
}

// shrink halves the window, or narrows it to a provider-suggested width when
// the error carries one.
func (p *chunkPolicy) shrink(err error) {
	p.resetTransient()

	next := max(p.current/2, 1)
	if _, hint := rpc.IsTooManyResultsError(err); hint != "" {
		if from, to, ok := rpc.ParseSuggestedBlockRange(hint); ok {
			if width := to - from + 1; width < next {
				next = max(width, 1)
			}
		}
	}
	p.current = next
}
