package layout

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/agentview/pkg/graph"
)

func node(id string, depth int, parent string) graph.AgentNode {
	return graph.AgentNode{
		ID:       id,
		Status:   graph.StatusRunning,
		Depth:    depth,
		ParentID: parent,
	}
}

func TestLayout_Deterministic(t *testing.T) {
	nodes := map[string]graph.AgentNode{
		"root": node("root", 0, ""),
		"a":    node("a", 1, "root"),
		"b":    node("b", 1, "root"),
		"c":    node("c", 2, "a"),
		"d":    node("d", 2, "a"),
		"e":    node("e", 2, "b"),
	}
	edges := []graph.Edge{
		{Source: "root", Target: "a"},
		{Source: "root", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "a", Target: "d"},
		{Source: "b", Target: "e"},
	}
	cfg := DefaultConfig()

	first := Layout(nodes, edges, cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Layout(nodes, edges, cfg))
	}
}

func TestLayout_ColumnsFollowDepth(t *testing.T) {
	nodes := map[string]graph.AgentNode{
		"root": node("root", 0, ""),
		"a":    node("a", 1, "root"),
		"b":    node("b", 2, "a"),
	}
	edges := []graph.Edge{
		{Source: "root", Target: "a"},
		{Source: "a", Target: "b"},
	}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)
	assert.Equal(t, cfg.BaseX, pos["root"].X)
	assert.Equal(t, cfg.BaseX+cfg.ColumnSpacing, pos["a"].X)
	assert.Equal(t, cfg.BaseX+2*cfg.ColumnSpacing, pos["b"].X)
}

func TestLayout_NoOverlapWithinLevel(t *testing.T) {
	// Many siblings crammed into one level must still keep the minimum
	// vertical distance, even past the viewport bound.
	nodes := map[string]graph.AgentNode{
		"root": node("root", 0, ""),
	}
	edges := []graph.Edge{}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("child-%02d", i)
		nodes[id] = node(id, 1, "root")
		edges = append(edges, graph.Edge{Source: "root", Target: id})
	}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)

	var ys []float64
	for id, p := range pos {
		if id == "root" {
			continue
		}
		ys = append(ys, p.Y)
	}
	require.Len(t, ys, 25)
	for i := range ys {
		for j := i + 1; j < len(ys); j++ {
			assert.GreaterOrEqual(t, math.Abs(ys[i]-ys[j]), cfg.NodeHeight,
				"two level-1 nodes closer than node height")
		}
	}
}

func TestLayout_ChildrenSeededNearParent(t *testing.T) {
	nodes := map[string]graph.AgentNode{
		"root":  node("root", 0, ""),
		"other": node("other", 0, ""),
		"a":     node("a", 1, "root"),
	}
	edges := []graph.Edge{{Source: "root", Target: "a"}}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)
	// A single child starts at its parent's y.
	assert.InDelta(t, pos["root"].Y, pos["a"].Y, cfg.NodeHeight)
}

func TestLayout_ComputedLevelsWhenDepthUndeclared(t *testing.T) {
	// Depth 0 everywhere: levels fall back to the longest path from
	// the roots.
	nodes := map[string]graph.AgentNode{
		"r": node("r", 0, ""),
		"m": node("m", 0, "r"),
		"l": node("l", 0, "m"),
	}
	edges := []graph.Edge{
		{Source: "r", Target: "m"},
		{Source: "m", Target: "l"},
		// Shortcut edge: longest path wins.
		{Source: "r", Target: "l"},
	}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)
	assert.Equal(t, cfg.BaseX, pos["r"].X)
	assert.Equal(t, cfg.BaseX+cfg.ColumnSpacing, pos["m"].X)
	assert.Equal(t, cfg.BaseX+2*cfg.ColumnSpacing, pos["l"].X)
}

func TestLayout_CyclicInputTerminates(t *testing.T) {
	// A malformed (cyclic) input must not hang; unreachable cycle
	// members default to level 0.
	nodes := map[string]graph.AgentNode{
		"a": node("a", 0, "b"),
		"b": node("b", 0, "a"),
	}
	edges := []graph.Edge{
		{Source: "a", Target: "b"},
		{Source: "b", Target: "a"},
	}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)
	require.Len(t, pos, 2)
	assert.Equal(t, cfg.BaseX, pos["a"].X)
	assert.Equal(t, cfg.BaseX, pos["b"].X)
}

func TestLayout_EveryNodeGetsAPosition(t *testing.T) {
	nodes := map[string]graph.AgentNode{
		"root":     node("root", 0, ""),
		"orphan":   node("orphan", 3, "missing"),
		"floating": node("floating", 0, ""),
	}
	// Edge referencing an id outside the node set is ignored.
	edges := []graph.Edge{{Source: "missing", Target: "orphan"}}
	cfg := DefaultConfig()

	pos := Layout(nodes, edges, cfg)
	require.Len(t, pos, 3)
	// Declared depth is authoritative even when the parent is unknown.
	assert.Equal(t, cfg.BaseX+3*cfg.ColumnSpacing, pos["orphan"].X)
}

func TestLayout_EmptyGraph(t *testing.T) {
	pos := Layout(map[string]graph.AgentNode{}, nil, DefaultConfig())
	assert.Empty(t, pos)
}
