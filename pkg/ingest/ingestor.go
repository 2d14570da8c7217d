// Package ingest turns raw transport messages into graph mutations: parsing,
// per-agent sequence reconciliation, and dispatch to the execution graph
// store. A malformed message is dropped with a diagnostic; ingestion never
// stops because of one bad frame.
package ingest

import (
	"log"

	"github.com/tcmartin/agentview/pkg/graph"
	"github.com/tcmartin/agentview/pkg/protocol"
)

// Ingestor routes parsed frames: token frames through the reconciler into
// the store's output streams, control frames to the store's handlers.
type Ingestor struct {
	store *graph.Store
	recon *Reconciler
}

// NewIngestor creates an ingestor feeding the given store.
func NewIngestor(store *graph.Store) *Ingestor {
	return &Ingestor{
		store: store,
		recon: NewReconciler(),
	}
}

// Ingest processes one raw message end to end. It never returns an error:
// every failure mode degrades to dropping the message and logging why.
func (i *Ingestor) Ingest(raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		log.Printf("ingest: dropping frame: %v", err)
		return
	}

	switch f := frame.(type) {
	case *protocol.TokenFrame:
		if !i.recon.Accept(f) {
			// Duplicate or stale delta from a replayed stream.
			return
		}
		i.store.AppendOutput(f.AgentID, f.Text)
	case *protocol.ControlFrame:
		i.store.ApplyControl(f)
	}
}
