package mutation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Phase is a step of one mutation invocation.
type Phase int

const (
	Idle Phase = iota
	Guarding
	Optimistic
	Requesting
	Committing
	RollingBack
	Settled
)

var phaseNames = [...]string{"idle", "guarding", "optimistic", "requesting", "committing", "rolling_back", "settled"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// PhaseEvent is reported to an Observer on every transition. Err is set on
// RollingBack and on aborts.
type PhaseEvent struct {
	Mutation string
	GuardKey string
	Phase    Phase
	Err      error
}

// Observer watches transitions. It must not block and never changes the outcome.
type Observer interface {
	Observe(ctx context.Context, ev PhaseEvent)
}

type ObserverFunc func(ctx context.Context, ev PhaseEvent)

func (f ObserverFunc) Observe(ctx context.Context, ev PhaseEvent) { f(ctx, ev) }

const tempPrefix = "temp-"

// NewTempID issues the placeholder id for optimistic entities.
func NewTempID() string { return tempPrefix + uuid.NewString() }

func IsTempID(id string) bool { return strings.HasPrefix(id, tempPrefix) }
