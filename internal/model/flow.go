package model

import (
	"encoding/json"
	"sort"
)

// Position is the visual position of a node in the flow editor. The Y
// coordinate is load-bearing: multi-edge fan-out executes targets in
// ascending Y order, and flow authors rely on that.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step of a flow graph. Data is decoded into a
// kind-specific config by the interpreter.
type Node struct {
	ID       string          `json:"id"`
	Kind     NodeKind        `json:"kind"`
	Data     json.RawMessage `json:"data"`
	Position Position        `json:"position"`
}

// Edge connects two nodes. BranchHandle selects which outcome of the
// source node the edge belongs to ("yes"/"no", a list option index,
// "timeout", ...); empty means default.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	BranchHandle string `json:"branchHandle,omitempty"`
}

// Flow is one tenant's conversation graph. Read-only to the engine.
type Flow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func ParseFlow(raw json.RawMessage) (*Flow, error) {
	if len(raw) == 0 {
		return &Flow{}, nil
	}
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Flow) NodeByID(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// EntryNode returns the trigger node of the flow, or nil when the graph
// has none.
func (f *Flow) EntryNode() *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Kind == NodeKindTrigger {
			return &f.Nodes[i]
		}
	}
	return nil
}

// EdgesFrom returns every outgoing edge of source, sorted by the target
// node's vertical position (ties keep declaration order).
func (f *Flow) EdgesFrom(source string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == source {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti := f.NodeByID(out[i].Target)
		tj := f.NodeByID(out[j].Target)
		if ti == nil || tj == nil {
			return false
		}
		return ti.Position.Y < tj.Position.Y
	})
	return out
}

// EdgesFromHandle returns the outgoing edges of source whose branch
// handle equals handle. When none match it falls back to the source's
// default (handle-less) edges.
func (f *Flow) EdgesFromHandle(source, handle string) []Edge {
	all := f.EdgesFrom(source)
	var matched, def []Edge
	for _, e := range all {
		switch e.BranchHandle {
		case handle:
			matched = append(matched, e)
		case "":
			def = append(def, e)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return def
}

// EdgesFromExactHandle is EdgesFromHandle without the default fallback.
func (f *Flow) EdgesFromExactHandle(source, handle string) []Edge {
	var out []Edge
	for _, e := range f.EdgesFrom(source) {
		if e.BranchHandle == handle {
			out = append(out, e)
		}
	}
	return out
}
