package agent

import (
	"context"
	"sync"
	"time"
)

// Approval is the outcome of an attended pause.
type Approval int

const (
	ApprovalGranted Approval = iota
	ApprovalAutoTimeout
	ApprovalCancelled
)

func (a Approval) String() string {
	switch a {
	case ApprovalGranted:
		return "granted"
	case ApprovalAutoTimeout:
		return "auto_timeout"
	default:
		return "cancelled"
	}
}

// ApprovalGate is the attended-mode collaborator. While enabled, the loop
// driver pauses at its review points and waits here for a human go-ahead.
type ApprovalGate struct {
	mu      sync.Mutex
	enabled bool
	approve chan struct{}
}

func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{approve: make(chan struct{}, 1)}
}

func (g *ApprovalGate) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = true
}

func (g *ApprovalGate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = false
}

// Enabled reports whether the driver should solicit approval at all.
func (g *ApprovalGate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Approve unblocks one waiting Await call. An approval arriving while nobody
// waits is remembered once, never stacked.
func (g *ApprovalGate) Approve() {
	select {
	case g.approve <- struct{}{}:
	default:
	}
}

// Await blocks until an approval arrives, the timeout elapses, or ctx ends.
// The timeout counts as consent so an unanswered pause can never wedge the
// loop. A zero or negative timeout waits on approval and ctx alone.
func (g *ApprovalGate) Await(ctx context.Context, timeout time.Duration) Approval {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case <-g.approve:
		return ApprovalGranted
	case <-timeoutCh:
		return ApprovalAutoTimeout
	case <-ctx.Done():
		return ApprovalCancelled
	}
}
