// Package graph holds the canonical in-memory model of one execution: the
// DAG of agent nodes and spawn edges reconstructed from the frame stream.
package graph

import (
	"log"
	"sync"
	"time"

	"github.com/tcmartin/agentview/pkg/protocol"
)

// Status represents the lifecycle state of an agent node
type Status string

// Agent node statuses
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AgentNode is one vertex of the execution graph, representing one spawned
// worker.
type AgentNode struct {
	// ID of the agent, unique within an execution
	ID string `json:"id"`

	// Name is the display name of the agent
	Name string `json:"name"`

	// Status of the agent
	Status Status `json:"status"`

	// Output is the agent's streamed text, append-only
	Output string `json:"output"`

	// StartTime is when the agent first transitioned to running
	StartTime time.Time `json:"start_time,omitempty"`

	// EndTime is when the agent reached a terminal status
	EndTime time.Time `json:"end_time,omitempty"`

	// Duration is EndTime - StartTime, derived on completion
	Duration time.Duration `json:"duration,omitempty"`

	// ParentID is the id of the spawning agent, empty for roots
	ParentID string `json:"parent_id,omitempty"`

	// Depth is the distance from the root, used as the layout column
	Depth int `json:"depth"`

	// Error message if the agent failed
	Error string `json:"error,omitempty"`
}

// Edge is a parent->child spawn relation.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Snapshot is a consistent copy of the graph, safe to hand to consumers.
type Snapshot struct {
	// Nodes maps agent id to a copy of its node
	Nodes map[string]AgentNode `json:"nodes"`

	// Edges in insertion order
	Edges []Edge `json:"edges"`

	// Finished indicates no further mutation is expected
	Finished bool `json:"finished"`
}

// Store owns the execution graph and applies control-frame semantics to it.
// Nodes are created on first reference and never deleted; the whole Store is
// discarded when the user ends or restarts an execution.
type Store struct {
	mu         sync.RWMutex
	nodes      map[string]*AgentNode
	edges      map[Edge]bool
	edgeOrder  []Edge
	finished   bool
	finishedAt time.Time

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// NewStore creates an empty execution graph store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*AgentNode),
		edges: make(map[Edge]bool),
		subs:  make(map[int]func()),
	}
}

// Subscribe registers a callback invoked once per logical change to the
// graph. It returns a function that removes the subscription.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Snapshot returns a deep copy of the current graph state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes:    make(map[string]AgentNode, len(s.nodes)),
		Edges:    make([]Edge, len(s.edgeOrder)),
		Finished: s.finished,
	}
	for id, n := range s.nodes {
		snap.Nodes[id] = *n
	}
	copy(snap.Edges, s.edgeOrder)
	return snap
}

// Finished reports whether an end-of-run control frame has been applied.
func (s *Store) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

// FinishedAt returns when the execution finished, zero if it has not.
func (s *Store) FinishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt
}

// AppendOutput appends a text delta to an agent's output. An unknown agent
// id gets a minimal placeholder node so the text is not lost.
func (s *Store) AppendOutput(agentID, text string) {
	s.mu.Lock()
	n := s.nodes[agentID]
	if n == nil {
		n = s.placeholderLocked(agentID)
	}
	n.Output += text
	s.mu.Unlock()

	s.notify()
}

// ApplyControl dispatches a control frame to the matching handler. Unknown
// control types are ignored so newer backends remain consumable.
func (s *Store) ApplyControl(f *protocol.ControlFrame) {
	switch f.Type {
	case protocol.ControlAgentStarted:
		s.applySpawn(f, true)
	case protocol.ControlAgentSpawned:
		s.applySpawn(f, false)
	case protocol.ControlAgentCompleted:
		s.applyCompleted(f)
	case protocol.ControlError:
		s.applyError(f)
	case protocol.ControlPlanningComplete:
		s.applyPlanning(f)
	case protocol.ControlSessionEnd, protocol.ControlTaskCompleted, protocol.ControlWorkflowCompleted:
		s.applyFinished(f.Ts)
	case protocol.ControlGraphUpdated:
		// Advisory only; the graph is already tracked frame by frame.
	default:
		log.Printf("graph: ignoring unknown control type %q", f.Type)
	}
}

// placeholderLocked creates a minimal pending node for an id referenced
// before its own spawn event arrived. Caller must hold s.mu.
func (s *Store) placeholderLocked(id string) *AgentNode {
	n := &AgentNode{
		ID:     id,
		Status: StatusPending,
	}
	s.nodes[id] = n
	return n
}

// insertEdgeLocked registers a spawn edge idempotently, creating a
// placeholder for an unknown parent. Caller must hold s.mu. Returns true if
// the edge was new.
func (s *Store) insertEdgeLocked(parent, child string) bool {
	if s.nodes[parent] == nil {
		s.placeholderLocked(parent)
	}
	e := Edge{Source: parent, Target: child}
	if s.edges[e] {
		return false
	}
	s.edges[e] = true
	s.edgeOrder = append(s.edgeOrder, e)
	return true
}

func (s *Store) applySpawn(f *protocol.ControlFrame, started bool) {
	if f.AgentID == "" {
		log.Printf("graph: dropping %s frame without agent_id", f.Type)
		return
	}
	p, err := f.SpawnPayload()
	if err != nil {
		log.Printf("graph: dropping %s frame: %v", f.Type, err)
		return
	}

	s.mu.Lock()
	changed := false
	n := s.nodes[f.AgentID]
	if n == nil {
		n = s.placeholderLocked(f.AgentID)
		changed = true
	}
	if p.Name != "" && n.Name != p.Name {
		n.Name = p.Name
		changed = true
	}
	if p.Parent != "" {
		n.ParentID = p.Parent
		if s.insertEdgeLocked(p.Parent, f.AgentID) {
			changed = true
		}
		if parent := s.nodes[p.Parent]; parent != nil && n.Depth != parent.Depth+1 {
			n.Depth = parent.Depth + 1
			changed = true
		}
	} else if p.Depth > 0 && n.Depth != p.Depth {
		n.Depth = p.Depth
		changed = true
	}
	if started && !n.Status.Terminal() && n.Status != StatusRunning {
		n.Status = StatusRunning
		if n.StartTime.IsZero() {
			n.StartTime = frameTime(f.Ts)
		}
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) applyCompleted(f *protocol.ControlFrame) {
	if f.AgentID == "" {
		return
	}

	s.mu.Lock()
	n := s.nodes[f.AgentID]
	if n == nil || n.Status.Terminal() {
		// Unknown node or re-delivered completion: no-op.
		s.mu.Unlock()
		return
	}
	n.Status = StatusCompleted
	n.EndTime = frameTime(f.Ts)
	if !n.StartTime.IsZero() {
		n.Duration = n.EndTime.Sub(n.StartTime)
	}
	s.mu.Unlock()

	s.notify()
}

func (s *Store) applyError(f *protocol.ControlFrame) {
	if f.AgentID == "" {
		log.Printf("graph: execution-level error frame, no agent to mark")
		return
	}
	p, err := f.ErrorPayload()
	if err != nil {
		log.Printf("graph: dropping error frame: %v", err)
		return
	}

	s.mu.Lock()
	n := s.nodes[f.AgentID]
	if n == nil {
		n = s.placeholderLocked(f.AgentID)
	}
	if n.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	n.Status = StatusFailed
	n.Error = p.Error
	n.EndTime = frameTime(f.Ts)
	if !n.StartTime.IsZero() {
		n.Duration = n.EndTime.Sub(n.StartTime)
	}
	s.mu.Unlock()

	s.notify()
}

// applyPlanning pre-populates declared nodes as pending placeholders and
// registers declared edges. Nodes that already carry richer state from
// agent_started keep it.
func (s *Store) applyPlanning(f *protocol.ControlFrame) {
	p, err := f.GraphPayload()
	if err != nil {
		log.Printf("graph: dropping planning_complete frame: %v", err)
		return
	}

	s.mu.Lock()
	changed := false
	for _, pn := range p.Graph.Nodes {
		if pn.ID == "" {
			continue
		}
		n := s.nodes[pn.ID]
		if n == nil {
			n = s.placeholderLocked(pn.ID)
			n.Name = pn.Name
			n.Depth = pn.Depth
			n.ParentID = pn.Parent
			changed = true
		} else if n.Name == "" && pn.Name != "" {
			n.Name = pn.Name
			changed = true
		}
		if pn.Parent != "" && s.insertEdgeLocked(pn.Parent, pn.ID) {
			changed = true
		}
	}
	for _, pe := range p.Graph.Edges {
		if pe.Source == "" || pe.Target == "" {
			continue
		}
		if s.nodes[pe.Target] == nil {
			s.placeholderLocked(pe.Target)
			changed = true
		}
		if s.insertEdgeLocked(pe.Source, pe.Target) {
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) applyFinished(ts int64) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.finishedAt = frameTime(ts)
	s.mu.Unlock()

	s.notify()
}

// frameTime converts a frame's millisecond timestamp, falling back to the
// local clock when the backend did not stamp the frame.
func frameTime(ts int64) time.Time {
	if ts == 0 {
		return time.Now()
	}
	return time.UnixMilli(ts)
}
