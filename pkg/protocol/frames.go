// Package protocol defines the wire frames streamed by an execution backend
// and the parsing of raw messages into typed frames.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators
const (
	FrameTypeToken   = "token"
	FrameTypeControl = "control"
)

// Control frame types
const (
	ControlAgentStarted      = "agent_started"
	ControlAgentSpawned      = "agent_spawned"
	ControlAgentCompleted    = "agent_completed"
	ControlError             = "error"
	ControlPlanningComplete  = "planning_complete"
	ControlSessionEnd        = "session_end"
	ControlTaskCompleted     = "task_completed"
	ControlWorkflowCompleted = "workflow_completed"
	ControlGraphUpdated      = "graph_updated"
)

var (
	// ErrParse indicates a message that is not valid JSON.
	ErrParse = errors.New("unparseable frame")

	// ErrProtocol indicates a structurally invalid frame, such as an
	// unknown frame_type or a missing required field.
	ErrProtocol = errors.New("protocol violation")
)

// Frame is one discrete protocol message, either a TokenFrame or a
// ControlFrame.
type Frame interface {
	// ExecutionID returns the execution this frame belongs to.
	ExecutionID() string
}

// TokenFrame is an incremental text delta for one agent's output stream.
type TokenFrame struct {
	// ExecID identifies the execution
	ExecID string `json:"exec_id"`

	// AgentID identifies the agent producing the text
	AgentID string `json:"agent_id"`

	// Seq is the per-agent sequence number of this delta
	Seq int64 `json:"seq"`

	// Text is the delta to append to the agent's output
	Text string `json:"text"`

	// Ts is the server timestamp in milliseconds
	Ts int64 `json:"ts"`

	// Final marks the last delta of the agent's stream
	Final bool `json:"final"`
}

// ExecutionID returns the execution id of the frame.
func (f *TokenFrame) ExecutionID() string { return f.ExecID }

// ControlFrame is a structural event: spawn, completion, error, planning
// snapshot, or end-of-run. Its payload shape is keyed by Type.
type ControlFrame struct {
	// ExecID identifies the execution
	ExecID string `json:"exec_id"`

	// Type is the control event type
	Type string `json:"type"`

	// AgentID identifies the agent the event refers to, if any
	AgentID string `json:"agent_id,omitempty"`

	// Payload carries the type-specific body, decoded on demand
	Payload json.RawMessage `json:"payload,omitempty"`

	// Ts is the server timestamp in milliseconds
	Ts int64 `json:"ts"`
}

// ExecutionID returns the execution id of the frame.
func (f *ControlFrame) ExecutionID() string { return f.ExecID }

// SpawnPayload is the payload of agent_started and agent_spawned events.
type SpawnPayload struct {
	// Name is the display name of the agent
	Name string `json:"name,omitempty"`

	// Parent is the id of the spawning agent, empty for roots
	Parent string `json:"parent,omitempty"`

	// Depth is the declared distance from the root
	Depth int `json:"depth,omitempty"`
}

// ErrorPayload is the payload of error events.
type ErrorPayload struct {
	// Error is the failure message
	Error string `json:"error"`
}

// GraphPayload is the payload of planning_complete events. It previews the
// full or partial graph the planner intends to execute.
type GraphPayload struct {
	Graph GraphPreview `json:"graph"`
}

// GraphPreview declares nodes and edges ahead of their execution.
type GraphPreview struct {
	Nodes []PreviewNode `json:"nodes"`
	Edges []PreviewEdge `json:"edges"`
}

// PreviewNode is a declared-but-not-yet-started agent.
type PreviewNode struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Parent string `json:"parent,omitempty"`
	Depth  int    `json:"depth,omitempty"`
}

// PreviewEdge is a declared parent->child spawn relation.
type PreviewEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// SpawnPayload decodes the frame payload as a SpawnPayload. A missing
// payload decodes to the zero value.
func (f *ControlFrame) SpawnPayload() (SpawnPayload, error) {
	var p SpawnPayload
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: spawn payload: %v", ErrProtocol, err)
	}
	return p, nil
}

// ErrorPayload decodes the frame payload as an ErrorPayload.
func (f *ControlFrame) ErrorPayload() (ErrorPayload, error) {
	var p ErrorPayload
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: error payload: %v", ErrProtocol, err)
	}
	return p, nil
}

// GraphPayload decodes the frame payload as a GraphPayload.
func (f *ControlFrame) GraphPayload() (GraphPayload, error) {
	var p GraphPayload
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: graph payload: %v", ErrProtocol, err)
	}
	return p, nil
}

// envelope carries just the discriminator so the full frame can be decoded
// into the right type.
type envelope struct {
	FrameType string `json:"frame_type"`
}

// ParseFrame decodes one raw message into a typed Frame. Unknown control
// types parse successfully and keep their raw payload; an unknown
// frame_type or a missing required field is an ErrProtocol, and invalid
// JSON is an ErrParse.
func ParseFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch env.FrameType {
	case FrameTypeToken:
		var f TokenFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: token frame: %v", ErrParse, err)
		}
		if f.AgentID == "" {
			return nil, fmt.Errorf("%w: token frame missing agent_id", ErrProtocol)
		}
		return &f, nil
	case FrameTypeControl:
		var f ControlFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: control frame: %v", ErrParse, err)
		}
		if f.Type == "" {
			return nil, fmt.Errorf("%w: control frame missing type", ErrProtocol)
		}
		return &f, nil
	case "":
		return nil, fmt.Errorf("%w: missing frame_type", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown frame_type %q", ErrProtocol, env.FrameType)
	}
}
