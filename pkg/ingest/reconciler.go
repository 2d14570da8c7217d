package ingest

import "github.com/tcmartin/agentview/pkg/protocol"

// Reconciler guards each agent's token stream against duplicated and
// out-of-order deltas. Reconnect replays deliver frames the client has
// already applied; the sequence numbers let those be dropped without
// corrupting the assembled output.
type Reconciler struct {
	lastSeq map[string]int64
}

// NewReconciler creates a reconciler with no per-agent state.
func NewReconciler() *Reconciler {
	return &Reconciler{lastSeq: make(map[string]int64)}
}

// Accept reports whether the token frame should be applied, advancing the
// agent's accepted sequence when it is. The rule is asymmetric: a final
// frame is accepted even when its sequence is stale, so a terminating
// stream is never stuck behind a gap. An exact duplicate is rejected even
// when final.
func (r *Reconciler) Accept(f *protocol.TokenFrame) bool {
	last, ok := r.lastSeq[f.AgentID]
	if ok && f.Seq == last {
		return false
	}
	if ok && f.Seq < last && !f.Final {
		return false
	}
	if !ok || f.Seq > last {
		r.lastSeq[f.AgentID] = f.Seq
	}
	return true
}

// LastAccepted returns the highest accepted sequence for an agent and
// whether any frame has been accepted at all.
func (r *Reconciler) LastAccepted(agentID string) (int64, bool) {
	seq, ok := r.lastSeq[agentID]
	return seq, ok
}
