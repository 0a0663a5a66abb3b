package coordinator

import (
	"sync"
	"time"

	"github.com/intenus/preranking/models"
)

// State is the per-intent lifecycle state.
type State int

const (
	StateAccepting State = iota
	StateFlushing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateFlushing:
		return "flushing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// intentContext is the coordinator-owned, in-memory tracking structure for
// one active intent. Its mutation is guarded by gate, a per-intent mailbox
// lock — the replacement for the "module-level mutable map" the design
// notes flag as the source pattern's hazard: here, a single goroutine at a
// time ever touches a given context's mutable fields.
type intentContext struct {
	gate sync.Mutex

	intent      models.Intent
	intentID    string
	windowEndMS int64

	passedCount int
	failedCount int

	timer *time.Timer

	state State
}

func newIntentContext(intent models.Intent) *intentContext {
	return &intentContext{
		intent:      intent,
		intentID:    intent.IntentID,
		windowEndMS: intent.WindowEndMS,
		state:       StateAccepting,
	}
}

// tryBeginFlush performs the single atomic CAS from ACCEPTING to FLUSHING;
// it reports false if some other flush already won.
func (c *intentContext) tryBeginFlush() bool {
	c.gate.Lock()
	defer c.gate.Unlock()
	if c.state != StateAccepting {
		return false
	}
	c.state = StateFlushing
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

func (c *intentContext) terminate() {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.state = StateTerminated
}

func (c *intentContext) currentState() State {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.state
}

func (c *intentContext) isAccepting() bool {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.state == StateAccepting
}

func (c *intentContext) incrementPassed() {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.passedCount++
}

func (c *intentContext) incrementFailed() {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.failedCount++
}

func (c *intentContext) counters() (passed, failed int) {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.passedCount, c.failedCount
}
