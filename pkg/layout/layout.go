// Package layout computes 2-D positions for the execution graph: one column
// per depth level, children seeded near their parent and spread apart until
// nothing overlaps. Layout is a pure function of its inputs, so identical
// graphs always produce identical positions.
//
// Positions are recomputed from scratch on every call; an already-placed
// node may shift when new nodes join its level. Minimizing that movement
// across incremental updates is an open question left to the consumer.
package layout

import (
	"math"
	"sort"

	"github.com/tcmartin/agentview/pkg/graph"
)

// Config controls the geometry of the computed layout.
type Config struct {
	// BaseX is the x coordinate of the first column
	BaseX float64 `json:"base_x" yaml:"base_x"`

	// BaseY is the top of the viewport
	BaseY float64 `json:"base_y" yaml:"base_y"`

	// ColumnSpacing is the horizontal distance between levels
	ColumnSpacing float64 `json:"column_spacing" yaml:"column_spacing"`

	// RowSpacing is the vertical distance between siblings
	RowSpacing float64 `json:"row_spacing" yaml:"row_spacing"`

	// NodeHeight is the minimum vertical distance between any two nodes
	// at the same level
	NodeHeight float64 `json:"node_height" yaml:"node_height"`

	// ShiftIncrement is how far a node moves per step when resolving an
	// overlap
	ShiftIncrement float64 `json:"shift_increment" yaml:"shift_increment"`

	// ViewportHeight bounds the initial vertical placement
	ViewportHeight float64 `json:"viewport_height" yaml:"viewport_height"`
}

// DefaultConfig returns layout geometry suitable for a typical viewport.
func DefaultConfig() Config {
	return Config{
		BaseX:          60,
		BaseY:          40,
		ColumnSpacing:  240,
		RowSpacing:     110,
		NodeHeight:     90,
		ShiftIncrement: 30,
		ViewportHeight: 720,
	}
}

// Position is a computed 2-D coordinate for one node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout computes a position for every node. It is deterministic: the same
// nodes, edges, and config always yield the same positions.
func Layout(nodes map[string]graph.AgentNode, edges []graph.Edge, cfg Config) map[string]Position {
	if cfg.ShiftIncrement <= 0 {
		cfg.ShiftIncrement = cfg.NodeHeight
	}
	if cfg.ShiftIncrement <= 0 {
		cfg.ShiftIncrement = 1
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	children, incoming := adjacency(nodes, edges)
	levels := resolveLevels(nodes, ids, children, incoming)

	// Group ids by level.
	byLevel := make(map[int][]string)
	maxLevel := 0
	for _, id := range ids {
		l := levels[id]
		byLevel[l] = append(byLevel[l], id)
		if l > maxLevel {
			maxLevel = l
		}
	}

	positions := make(map[string]Position, len(nodes))
	for level := 0; level <= maxLevel; level++ {
		placeLevel(byLevel[level], level, nodes, positions, cfg)
	}
	return positions
}

// adjacency builds sorted parent->children lists and incoming-edge counts,
// ignoring edges whose endpoints are not in the node set.
func adjacency(nodes map[string]graph.AgentNode, edges []graph.Edge) (map[string][]string, map[string]int) {
	children := make(map[string][]string)
	incoming := make(map[string]int)
	seen := make(map[graph.Edge]bool)
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		if _, ok := nodes[e.Source]; !ok {
			continue
		}
		if _, ok := nodes[e.Target]; !ok {
			continue
		}
		children[e.Source] = append(children[e.Source], e.Target)
		incoming[e.Target]++
	}
	for _, c := range children {
		sort.Strings(c)
	}
	return children, incoming
}

// resolveLevels assigns a column level to every node. A declared depth is
// authoritative; undeclared levels are computed by a visited-guarded
// longest-path walk from the roots, so a malformed or cyclic input still
// terminates, with unreachable nodes defaulting to level 0.
func resolveLevels(nodes map[string]graph.AgentNode, ids []string, children map[string][]string, incoming map[string]int) map[string]int {
	levels := make(map[string]int, len(nodes))

	type entry struct {
		id    string
		level int
	}
	var queue []entry
	for _, id := range ids {
		if incoming[id] == 0 {
			queue = append(queue, entry{id: id, level: 0})
		}
	}

	best := make(map[string]int, len(nodes))
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if prev, ok := best[e.id]; ok && e.level <= prev {
			continue
		}
		// Level can never exceed the node count in an acyclic graph;
		// anything past that is a cycle feeding itself.
		if e.level >= len(nodes) {
			continue
		}
		best[e.id] = e.level
		for _, c := range children[e.id] {
			queue = append(queue, entry{id: c, level: e.level + 1})
		}
	}

	for _, id := range ids {
		n := nodes[id]
		switch {
		case n.Depth > 0:
			levels[id] = n.Depth
		case incoming[id] == 0:
			levels[id] = 0
		default:
			levels[id] = best[id]
		}
	}
	return levels
}

// placeLevel positions one column. Nodes are grouped by parent, seeded near
// the parent's y (or vertically centered when parentless), spread by the row
// spacing, and shifted down in fixed increments until no pair at the level
// sits closer than the node height.
func placeLevel(ids []string, level int, nodes map[string]graph.AgentNode, positions map[string]Position, cfg Config) {
	if len(ids) == 0 {
		return
	}
	x := cfg.BaseX + float64(level)*cfg.ColumnSpacing

	type group struct {
		parent  string
		members []string
	}
	byParent := make(map[string][]string)
	for _, id := range ids {
		byParent[nodes[id].ParentID] = append(byParent[nodes[id].ParentID], id)
	}
	groups := make([]group, 0, len(byParent))
	for parent, members := range byParent {
		sort.Strings(members)
		groups = append(groups, group{parent: parent, members: members})
	}
	sort.Slice(groups, func(i, j int) bool {
		yi, oki := parentY(groups[i].parent, positions)
		yj, okj := parentY(groups[j].parent, positions)
		if oki != okj {
			return okj // parentless groups first
		}
		if yi != yj {
			return yi < yj
		}
		return groups[i].parent < groups[j].parent
	})

	maxY := cfg.BaseY + cfg.ViewportHeight - cfg.NodeHeight
	if maxY < cfg.BaseY {
		maxY = cfg.BaseY
	}

	var placed []float64
	for _, g := range groups {
		center := cfg.BaseY + cfg.ViewportHeight/2
		if py, ok := parentY(g.parent, positions); ok {
			center = py
		}
		startY := center - cfg.RowSpacing*float64(len(g.members)-1)/2

		for i, id := range g.members {
			y := startY + float64(i)*cfg.RowSpacing
			// Seed inside the viewport; overlap resolution may still
			// push past the bottom, spacing wins over bounding.
			y = math.Max(cfg.BaseY, math.Min(y, maxY))
			for overlaps(y, placed, cfg.NodeHeight) {
				y += cfg.ShiftIncrement
			}
			placed = append(placed, y)
			positions[id] = Position{X: x, Y: y}
		}
	}
}

func parentY(parent string, positions map[string]Position) (float64, bool) {
	if parent == "" {
		return 0, false
	}
	p, ok := positions[parent]
	return p.Y, ok
}

func overlaps(y float64, placed []float64, minGap float64) bool {
	for _, p := range placed {
		if math.Abs(y-p) < minGap {
			return true
		}
	}
	return false
}
