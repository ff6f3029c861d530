// Package graph models automation workflows as a directed graph of typed
// nodes. Each node kind is its own type carrying only the fields valid for
// that kind, so "which fields apply" is a compile-time property.
package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType discriminates the node variants on the wire.
type NodeType string

const (
	NodeAction    NodeType = "action"
	NodeWait      NodeType = "wait"
	NodeCondition NodeType = "condition"
	NodeEnd       NodeType = "end"
)

// ActionKind names the effect an action node performs.
type ActionKind string

const (
	ActionSendMessage ActionKind = "send_message"
	ActionApplyTag    ActionKind = "apply_tag"
)

// DefaultEdge is the mandatory catch-all label on condition nodes.
const DefaultEdge = "default"

// Node is one vertex of the workflow graph.
type Node interface {
	ID() string
	Type() NodeType
}

// ActionNode performs an external effect and continues on its single edge.
type ActionNode struct {
	NodeID   string
	Action   ActionKind
	Instance string // messaging channel instance, send_message only
	Message  string // outbound text, send_message only
	Tag      string // apply_tag only
	Next     string
}

func (n ActionNode) ID() string     { return n.NodeID }
func (n ActionNode) Type() NodeType { return NodeAction }

// WaitNode suspends the execution for Duration. The node itself is the
// resume point: resuming advances to Next without re-entering the node.
type WaitNode struct {
	NodeID   string
	Duration time.Duration
	Next     string
}

func (n WaitNode) ID() string     { return n.NodeID }
func (n WaitNode) Type() NodeType { return NodeWait }

// ConditionNode evaluates a predicate over lead state and follows the edge
// labeled with the boolean result, falling back to the default edge.
type ConditionNode struct {
	NodeID string
	Field  string // source, city, campaign_name, pipeline_id, stage_id, tag
	Op     string // equals, not_equals, contains, has_tag
	Value  string
	Edges  map[string]string // label -> target node id; must include "default"
}

func (n ConditionNode) ID() string     { return n.NodeID }
func (n ConditionNode) Type() NodeType { return NodeCondition }

// EndNode completes the execution.
type EndNode struct {
	NodeID string
}

func (n EndNode) ID() string     { return n.NodeID }
func (n EndNode) Type() NodeType { return NodeEnd }

// rawNode is the persisted JSON envelope for one node.
type rawNode struct {
	ID    string            `json:"id"`
	Type  NodeType          `json:"type"`
	Next  string            `json:"next,omitempty"`
	Edges map[string]string `json:"edges,omitempty"`

	Action       ActionKind `json:"action,omitempty"`
	Instance     string     `json:"instance,omitempty"`
	Message      string     `json:"message,omitempty"`
	Tag          string     `json:"tag,omitempty"`
	WaitDuration string     `json:"waitDuration,omitempty"` // Go duration string, e.g. "1h"
	Field        string     `json:"field,omitempty"`
	Op           string     `json:"op,omitempty"`
	Value        string     `json:"value,omitempty"`
}

// ParseNodes decodes the persisted node array into typed nodes keyed by id.
func ParseNodes(data []byte) (map[string]Node, error) {
	var raws []rawNode
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}

	nodes := make(map[string]Node, len(raws))
	for _, raw := range raws {
		if raw.ID == "" {
			return nil, fmt.Errorf("node without id")
		}
		if _, exists := nodes[raw.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", raw.ID)
		}

		node, err := raw.toNode()
		if err != nil {
			return nil, err
		}
		nodes[raw.ID] = node
	}

	return nodes, nil
}

func (raw rawNode) toNode() (Node, error) {
	switch raw.Type {
	case NodeAction:
		return ActionNode{
			NodeID:   raw.ID,
			Action:   raw.Action,
			Instance: raw.Instance,
			Message:  raw.Message,
			Tag:      raw.Tag,
			Next:     raw.Next,
		}, nil
	case NodeWait:
		duration, err := time.ParseDuration(raw.WaitDuration)
		if err != nil {
			return nil, fmt.Errorf("node %q: invalid wait duration %q", raw.ID, raw.WaitDuration)
		}
		return WaitNode{NodeID: raw.ID, Duration: duration, Next: raw.Next}, nil
	case NodeCondition:
		return ConditionNode{
			NodeID: raw.ID,
			Field:  raw.Field,
			Op:     raw.Op,
			Value:  raw.Value,
			Edges:  raw.Edges,
		}, nil
	case NodeEnd:
		return EndNode{NodeID: raw.ID}, nil
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", raw.ID, raw.Type)
	}
}

// Definition is one automation workflow.
type Definition struct {
	Name        string
	Active      bool
	EntryNodeID string
	Nodes       map[string]Node
}

// Validate checks structural invariants: the entry node exists, every edge
// points at an existing node, single-edge nodes carry their edge, condition
// nodes carry a default edge, and wait durations are positive.
func (d Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("definition has no nodes")
	}
	if _, ok := d.Nodes[d.EntryNodeID]; !ok {
		return fmt.Errorf("entry node %q does not exist", d.EntryNodeID)
	}

	for id, node := range d.Nodes {
		switch n := node.(type) {
		case ActionNode:
			if n.Action != ActionSendMessage && n.Action != ActionApplyTag {
				return fmt.Errorf("node %q: unknown action %q", id, n.Action)
			}
			if err := d.checkEdge(id, n.Next); err != nil {
				return err
			}
		case WaitNode:
			if n.Duration <= 0 {
				return fmt.Errorf("node %q: wait duration must be positive", id)
			}
			if err := d.checkEdge(id, n.Next); err != nil {
				return err
			}
		case ConditionNode:
			if _, ok := n.Edges[DefaultEdge]; !ok {
				return fmt.Errorf("node %q: condition is missing a default edge", id)
			}
			for label, target := range n.Edges {
				if _, ok := d.Nodes[target]; !ok {
					return fmt.Errorf("node %q: edge %q points at unknown node %q", id, label, target)
				}
			}
		case EndNode:
			// terminal, nothing to check
		}
	}

	return nil
}

func (d Definition) checkEdge(nodeID, target string) error {
	if target == "" {
		return fmt.Errorf("node %q: missing outgoing edge", nodeID)
	}
	if _, ok := d.Nodes[target]; !ok {
		return fmt.Errorf("node %q: edge points at unknown node %q", nodeID, target)
	}
	return nil
}
