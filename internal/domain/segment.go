package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type OperatorType string

const (
	OperatorEquals             OperatorType = "Equals"
	OperatorNotEquals          OperatorType = "NotEquals"
	OperatorExists             OperatorType = "Exists"
	OperatorNotExists          OperatorType = "NotExists"
	OperatorLessThan           OperatorType = "LessThan"
	OperatorGreaterThanOrEqual OperatorType = "GreaterThanOrEqual"
)

// Operator is a condition on a single JSON value. Value holds the comparison
// operand for Equals/NotEquals, Number the operand for numeric comparisons.
type Operator struct {
	Type   OperatorType
	Value  string
	Number float64
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  OperatorType `json:"type"`
		Value any          `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.Type = raw.Type
	switch v := raw.Value.(type) {
	case nil:
	case string:
		o.Value = v
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			o.Number = n
		}
	case float64:
		o.Value = strconv.FormatFloat(v, 'f', -1, 64)
		o.Number = v
	case bool:
		o.Value = strconv.FormatBool(v)
	default:
		return fmt.Errorf("unsupported operator value %T", raw.Value)
	}

	switch o.Type {
	case OperatorEquals, OperatorNotEquals, OperatorExists, OperatorNotExists:
	case OperatorLessThan, OperatorGreaterThanOrEqual:
		if _, ok := raw.Value.(float64); !ok {
			if _, err := strconv.ParseFloat(o.Value, 64); err != nil {
				return fmt.Errorf("operator %s requires a numeric value", o.Type)
			}
		}
	default:
		return fmt.Errorf("unknown operator %q", o.Type)
	}
	return nil
}

func (o Operator) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": o.Type}
	switch o.Type {
	case OperatorEquals, OperatorNotEquals:
		out["value"] = o.Value
	case OperatorLessThan, OperatorGreaterThanOrEqual:
		out["value"] = o.Number
	}
	return json.Marshal(out)
}

// TimesOperator compares a count of matching events against a threshold.
type TimesOperator string

const (
	TimesGreaterThanOrEqual TimesOperator = ">="
	TimesLessThan           TimesOperator = "<"
	TimesEquals             TimesOperator = "="
)

// PropertyCondition constrains one property of a performed event.
type PropertyCondition struct {
	Path     string   `json:"path"`
	Operator Operator `json:"operator"`
}

type SegmentNodeType string

const (
	SegmentNodeTrait     SegmentNodeType = "Trait"
	SegmentNodePerformed SegmentNodeType = "Performed"
	SegmentNodeAnd       SegmentNodeType = "And"
	SegmentNodeOr        SegmentNodeType = "Or"
)

// SegmentNode is one of TraitSegmentNode, PerformedSegmentNode,
// AndSegmentNode or OrSegmentNode.
type SegmentNode interface {
	NodeID() string
	SegmentNodeType() SegmentNodeType
	isSegmentNode()
}

type TraitSegmentNode struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	Operator Operator `json:"operator"`
}

// PerformedSegmentNode matches users who performed Event a number of times.
// A non-empty Key makes the node usable for event-keyed journeys.
type PerformedSegmentNode struct {
	ID            string              `json:"id"`
	Event         string              `json:"event"`
	Times         int                 `json:"times"`
	TimesOperator TimesOperator       `json:"timesOperator"`
	Properties    []PropertyCondition `json:"properties,omitempty"`
	Key           string              `json:"key,omitempty"`
}

type AndSegmentNode struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
}

type OrSegmentNode struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
}

func (n TraitSegmentNode) NodeID() string     { return n.ID }
func (n PerformedSegmentNode) NodeID() string { return n.ID }
func (n AndSegmentNode) NodeID() string       { return n.ID }
func (n OrSegmentNode) NodeID() string        { return n.ID }

func (TraitSegmentNode) SegmentNodeType() SegmentNodeType     { return SegmentNodeTrait }
func (PerformedSegmentNode) SegmentNodeType() SegmentNodeType { return SegmentNodePerformed }
func (AndSegmentNode) SegmentNodeType() SegmentNodeType       { return SegmentNodeAnd }
func (OrSegmentNode) SegmentNodeType() SegmentNodeType        { return SegmentNodeOr }

func (TraitSegmentNode) isSegmentNode()     {}
func (PerformedSegmentNode) isSegmentNode() {}
func (AndSegmentNode) isSegmentNode()       {}
func (OrSegmentNode) isSegmentNode()        {}

// Threshold returns the times operator and count, defaulting to ">= 1".
func (n PerformedSegmentNode) Threshold() (TimesOperator, int) {
	op := n.TimesOperator
	if op == "" {
		op = TimesGreaterThanOrEqual
	}
	times := n.Times
	if times == 0 && n.TimesOperator == "" {
		times = 1
	}
	return op, times
}

// SegmentDefinition is a boolean expression over an arena of nodes addressed
// by id. Entry is the root.
type SegmentDefinition struct {
	Entry SegmentNode
	Nodes map[string]SegmentNode
}

// Node returns the node with the given id, including the entry node.
func (d *SegmentDefinition) Node(id string) (SegmentNode, bool) {
	if d.Entry != nil && d.Entry.NodeID() == id {
		return d.Entry, true
	}
	n, ok := d.Nodes[id]
	return n, ok
}

// Leaves returns the stateful nodes reachable from the entry node, in
// depth-first order.
func (d *SegmentDefinition) Leaves() []SegmentNode {
	var leaves []SegmentNode
	seen := map[string]bool{}
	var walk func(n SegmentNode)
	walk = func(n SegmentNode) {
		if n == nil || seen[n.NodeID()] {
			return
		}
		seen[n.NodeID()] = true
		switch node := n.(type) {
		case AndSegmentNode:
			for _, c := range node.Children {
				child, _ := d.Node(c)
				walk(child)
			}
		case OrSegmentNode:
			for _, c := range node.Children {
				child, _ := d.Node(c)
				walk(child)
			}
		default:
			leaves = append(leaves, n)
		}
	}
	walk(d.Entry)
	return leaves
}

// Segment is a stored segment resource.
type Segment struct {
	ID          string
	WorkspaceID string
	Name        string
	Definition  SegmentDefinition
	UpdatedAt   time.Time
}

// Version returns the definition version used for state ids and periods.
func (s *Segment) Version() string {
	return DefinitionVersion(s.ID, s.UpdatedAt)
}

type segmentDefinitionJSON struct {
	EntryNode json.RawMessage   `json:"entryNode"`
	Nodes     []json.RawMessage `json:"nodes"`
}

// ParseSegmentDefinition decodes and validates a stored segment definition.
func ParseSegmentDefinition(raw []byte) (SegmentDefinition, error) {
	var doc segmentDefinitionJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return SegmentDefinition{}, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if len(doc.EntryNode) == 0 {
		return SegmentDefinition{}, fmt.Errorf("%w: segment requires an entry node", ErrMalformedDefinition)
	}

	entry, err := parseSegmentNode(doc.EntryNode)
	if err != nil {
		return SegmentDefinition{}, err
	}

	def := SegmentDefinition{Entry: entry, Nodes: make(map[string]SegmentNode, len(doc.Nodes))}
	for _, rawNode := range doc.Nodes {
		node, err := parseSegmentNode(rawNode)
		if err != nil {
			return SegmentDefinition{}, err
		}
		if _, dup := def.Node(node.NodeID()); dup {
			return SegmentDefinition{}, fmt.Errorf("%w: duplicate segment node id %q", ErrMalformedDefinition, node.NodeID())
		}
		def.Nodes[node.NodeID()] = node
	}

	if err := validateSegmentDefinition(&def); err != nil {
		return SegmentDefinition{}, err
	}
	return def, nil
}

func parseSegmentNode(raw json.RawMessage) (SegmentNode, error) {
	var head struct {
		Type SegmentNodeType `json:"type"`
		ID   string          `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if head.ID == "" {
		return nil, fmt.Errorf("%w: segment node requires an id", ErrMalformedDefinition)
	}

	var (
		node SegmentNode
		err  error
	)
	switch head.Type {
	case SegmentNodeTrait:
		var n TraitSegmentNode
		err = json.Unmarshal(raw, &n)
		if err == nil && n.Path == "" {
			err = fmt.Errorf("trait node %q requires a path", n.ID)
		}
		node = n
	case SegmentNodePerformed:
		var n PerformedSegmentNode
		err = json.Unmarshal(raw, &n)
		if err == nil && n.Event == "" {
			err = fmt.Errorf("performed node %q requires an event", n.ID)
		}
		if err == nil {
			switch n.TimesOperator {
			case "", TimesGreaterThanOrEqual, TimesLessThan, TimesEquals:
			default:
				err = fmt.Errorf("performed node %q has unknown times operator %q", n.ID, n.TimesOperator)
			}
		}
		node = n
	case SegmentNodeAnd:
		var n AndSegmentNode
		err = json.Unmarshal(raw, &n)
		node = n
	case SegmentNodeOr:
		var n OrSegmentNode
		err = json.Unmarshal(raw, &n)
		node = n
	default:
		err = fmt.Errorf("unknown segment node type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	return node, nil
}

func validateSegmentDefinition(def *SegmentDefinition) error {
	visiting := map[string]bool{}
	var visit func(id string) error
	visit = func(id string) error {
		node, ok := def.Node(id)
		if !ok {
			return fmt.Errorf("%w: unknown segment node %q", ErrMalformedDefinition, id)
		}
		if visiting[id] {
			return fmt.Errorf("%w: segment node %q is part of a cycle", ErrMalformedDefinition, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		var children []string
		switch n := node.(type) {
		case AndSegmentNode:
			children = n.Children
		case OrSegmentNode:
			children = n.Children
		}
		for _, c := range children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(def.Entry.NodeID())
}

// MarshalJSON encodes the definition in its stored form.
func (d SegmentDefinition) MarshalJSON() ([]byte, error) {
	entry, err := marshalTagged(string(d.Entry.SegmentNodeType()), d.Entry)
	if err != nil {
		return nil, err
	}
	nodes := make([]json.RawMessage, 0, len(d.Nodes))
	for _, id := range sortedKeys(d.Nodes) {
		n, err := marshalTagged(string(d.Nodes[id].SegmentNodeType()), d.Nodes[id])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return json.Marshal(segmentDefinitionJSON{EntryNode: entry, Nodes: nodes})
}
