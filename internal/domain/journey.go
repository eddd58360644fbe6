package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type JourneyStatus string

const (
	JourneyNotStarted JourneyStatus = "NotStarted"
	JourneyRunning    JourneyStatus = "Running"
	JourneyPaused     JourneyStatus = "Paused"
	JourneyBroadcast  JourneyStatus = "Broadcast"
)

// Sentinel node ids usable as children.
const (
	EntryNodeID = "EntryNode"
	ExitNodeID  = "ExitNode"
)

type JourneyNodeType string

const (
	NodeSegmentEntry JourneyNodeType = "SegmentEntryNode"
	NodeEventEntry   JourneyNodeType = "EventEntryNode"
	NodeExit         JourneyNodeType = "ExitNode"
	NodeMessage      JourneyNodeType = "MessageNode"
	NodeDelay        JourneyNodeType = "DelayNode"
	NodeSegmentSplit JourneyNodeType = "SegmentSplitNode"
	NodeWaitFor      JourneyNodeType = "WaitForNode"
)

// EntryNode is one of SegmentEntryNode or EventEntryNode.
type EntryNode interface {
	EntryChild() string
	JourneyNodeType() JourneyNodeType
	isEntryNode()
}

type SegmentEntryNode struct {
	Segment string `json:"segment"`
	Child   string `json:"child"`
}

// EventEntryNode starts one instance per distinct value of Key on events
// named Event.
type EventEntryNode struct {
	Event string `json:"event"`
	Key   string `json:"key"`
	Child string `json:"child"`
}

func (n SegmentEntryNode) EntryChild() string { return n.Child }
func (n EventEntryNode) EntryChild() string   { return n.Child }

func (SegmentEntryNode) JourneyNodeType() JourneyNodeType { return NodeSegmentEntry }
func (EventEntryNode) JourneyNodeType() JourneyNodeType   { return NodeEventEntry }

func (SegmentEntryNode) isEntryNode() {}
func (EventEntryNode) isEntryNode()   {}

// JourneyNode is one of MessageNode, DelayNode, SegmentSplitNode or
// WaitForNode.
type JourneyNode interface {
	NodeID() string
	Children() []string
	JourneyNodeType() JourneyNodeType
	isJourneyNode()
}

type ChannelType string

const (
	ChannelEmail      ChannelType = "Email"
	ChannelSms        ChannelType = "Sms"
	ChannelMobilePush ChannelType = "MobilePush"
)

// Identifier returns the user property a channel addresses recipients by.
func (c ChannelType) Identifier() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelSms:
		return "phone"
	case ChannelMobilePush:
		return "deviceToken"
	}
	return ""
}

type MessageVariant struct {
	Type       ChannelType `json:"type"`
	TemplateID string      `json:"templateId"`
}

type MessageNode struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name,omitempty"`
	Child               string         `json:"child"`
	SubscriptionGroupID string         `json:"subscriptionGroupId,omitempty"`
	Variant             MessageVariant `json:"variant"`
}

type DelayVariantType string

const (
	DelaySecond    DelayVariantType = "Second"
	DelayLocalTime DelayVariantType = "LocalTime"
)

// DelayVariant is either a fixed number of seconds or the next occurrence of
// a local wall-clock time in the user's timezone.
type DelayVariant struct {
	Type              DelayVariantType `json:"type"`
	Seconds           int64            `json:"seconds,omitempty"`
	Hour              int              `json:"hour,omitempty"`
	Minute            int              `json:"minute,omitempty"`
	AllowedDaysOfWeek []time.Weekday   `json:"allowedDaysOfWeek,omitempty"`
}

type DelayNode struct {
	ID      string       `json:"id"`
	Child   string       `json:"child"`
	Variant DelayVariant `json:"variant"`
}

type SegmentSplitVariant struct {
	Type       string `json:"type"`
	Segment    string `json:"segment"`
	TrueChild  string `json:"trueChild"`
	FalseChild string `json:"falseChild"`
}

type SegmentSplitNode struct {
	ID      string              `json:"id"`
	Variant SegmentSplitVariant `json:"variant"`
}

type WaitForSegmentChild struct {
	ID        string `json:"id"`
	SegmentID string `json:"segmentId"`
}

type WaitForNode struct {
	ID              string                `json:"id"`
	TimeoutSeconds  int64                 `json:"timeoutSeconds"`
	TimeoutChild    string                `json:"timeoutChild"`
	SegmentChildren []WaitForSegmentChild `json:"segmentChildren"`
}

func (n MessageNode) NodeID() string      { return n.ID }
func (n DelayNode) NodeID() string        { return n.ID }
func (n SegmentSplitNode) NodeID() string { return n.ID }
func (n WaitForNode) NodeID() string      { return n.ID }

func (n MessageNode) Children() []string { return []string{n.Child} }
func (n DelayNode) Children() []string   { return []string{n.Child} }
func (n SegmentSplitNode) Children() []string {
	return []string{n.Variant.TrueChild, n.Variant.FalseChild}
}
func (n WaitForNode) Children() []string {
	children := []string{n.TimeoutChild}
	for _, c := range n.SegmentChildren {
		children = append(children, c.ID)
	}
	return children
}

func (MessageNode) JourneyNodeType() JourneyNodeType      { return NodeMessage }
func (DelayNode) JourneyNodeType() JourneyNodeType        { return NodeDelay }
func (SegmentSplitNode) JourneyNodeType() JourneyNodeType { return NodeSegmentSplit }
func (WaitForNode) JourneyNodeType() JourneyNodeType      { return NodeWaitFor }

func (MessageNode) isJourneyNode()      {}
func (DelayNode) isJourneyNode()        {}
func (SegmentSplitNode) isJourneyNode() {}
func (WaitForNode) isJourneyNode()      {}

// JourneyDefinition is the node graph of a journey. Children address nodes
// by id or name the ExitNode sentinel.
type JourneyDefinition struct {
	Entry EntryNode
	Nodes map[string]JourneyNode
}

// Node returns the interior node with the given id.
func (d *JourneyDefinition) Node(id string) (JourneyNode, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// SegmentReferences returns the ids of segments whose transitions the journey
// reacts to: the entry segment and every WaitFor segment child.
func (d *JourneyDefinition) SegmentReferences() []string {
	set := map[string]struct{}{}
	if entry, ok := d.Entry.(SegmentEntryNode); ok {
		set[entry.Segment] = struct{}{}
	}
	for _, n := range d.Nodes {
		if w, ok := n.(WaitForNode); ok {
			for _, c := range w.SegmentChildren {
				set[c.SegmentID] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// Journey is a stored journey resource.
type Journey struct {
	ID          string
	WorkspaceID string
	Name        string
	Status      JourneyStatus
	Definition  JourneyDefinition
	UpdatedAt   time.Time
}

type journeyDefinitionJSON struct {
	EntryNode json.RawMessage   `json:"entryNode"`
	ExitNode  json.RawMessage   `json:"exitNode,omitempty"`
	Nodes     []json.RawMessage `json:"nodes"`
}

// ParseJourneyDefinition decodes a stored journey definition and validates
// its graph.
func ParseJourneyDefinition(raw []byte) (JourneyDefinition, error) {
	var doc journeyDefinitionJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return JourneyDefinition{}, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	entry, err := parseEntryNode(doc.EntryNode)
	if err != nil {
		return JourneyDefinition{}, err
	}

	def := JourneyDefinition{Entry: entry, Nodes: make(map[string]JourneyNode, len(doc.Nodes))}
	for _, rawNode := range doc.Nodes {
		node, err := parseJourneyNode(rawNode)
		if err != nil {
			return JourneyDefinition{}, err
		}
		if _, dup := def.Nodes[node.NodeID()]; dup {
			return JourneyDefinition{}, fmt.Errorf("%w: duplicate node id %q", ErrInvalidJourneyGraph, node.NodeID())
		}
		def.Nodes[node.NodeID()] = node
	}

	if err := ValidateJourneyDefinition(&def); err != nil {
		return JourneyDefinition{}, err
	}
	return def, nil
}

func parseEntryNode(raw json.RawMessage) (EntryNode, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: journey requires an entry node", ErrMalformedDefinition)
	}
	var head struct {
		Type JourneyNodeType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	switch head.Type {
	case NodeSegmentEntry, "EntryNode":
		var n SegmentEntryNode
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		if n.Segment == "" {
			return nil, fmt.Errorf("%w: segment entry node requires a segment", ErrMalformedDefinition)
		}
		return n, nil
	case NodeEventEntry:
		var n EventEntryNode
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		if n.Event == "" || n.Key == "" {
			return nil, fmt.Errorf("%w: event entry node requires an event and a key", ErrMalformedDefinition)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unknown entry node type %q", ErrMalformedDefinition, head.Type)
	}
}

func parseJourneyNode(raw json.RawMessage) (JourneyNode, error) {
	var head struct {
		Type JourneyNodeType `json:"type"`
		ID   string          `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if head.ID == "" || head.ID == ExitNodeID || head.ID == EntryNodeID {
		return nil, fmt.Errorf("%w: invalid node id %q", ErrMalformedDefinition, head.ID)
	}

	var (
		node JourneyNode
		err  error
	)
	switch head.Type {
	case NodeMessage:
		var n MessageNode
		err = json.Unmarshal(raw, &n)
		if err == nil && n.Variant.TemplateID == "" {
			err = fmt.Errorf("message node %q requires a template", n.ID)
		}
		if err == nil && n.Variant.Type.Identifier() == "" {
			err = fmt.Errorf("message node %q has unknown channel %q", n.ID, n.Variant.Type)
		}
		node = n
	case NodeDelay:
		var n DelayNode
		err = json.Unmarshal(raw, &n)
		if err == nil {
			err = validateDelay(n)
		}
		node = n
	case NodeSegmentSplit:
		var n SegmentSplitNode
		err = json.Unmarshal(raw, &n)
		if err == nil && n.Variant.Segment == "" {
			err = fmt.Errorf("segment split node %q requires a segment", n.ID)
		}
		node = n
	case NodeWaitFor:
		var n WaitForNode
		err = json.Unmarshal(raw, &n)
		node = n
	default:
		err = fmt.Errorf("unknown node type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	return node, nil
}

func validateDelay(n DelayNode) error {
	switch n.Variant.Type {
	case DelaySecond:
		if n.Variant.Seconds <= 0 {
			return fmt.Errorf("delay node %q requires positive seconds", n.ID)
		}
	case DelayLocalTime:
		if n.Variant.Hour < 0 || n.Variant.Hour > 23 || n.Variant.Minute < 0 || n.Variant.Minute > 59 {
			return fmt.Errorf("delay node %q has an invalid local time", n.ID)
		}
	default:
		return fmt.Errorf("delay node %q has unknown variant %q", n.ID, n.Variant.Type)
	}
	return nil
}

// ValidateJourneyDefinition checks that every child reference resolves, that
// WaitFor nodes declare a timeout and at least one segment child, and that
// the graph has no cycle other than one passing through a WaitFor timeout.
func ValidateJourneyDefinition(def *JourneyDefinition) error {
	if def.Entry == nil {
		return fmt.Errorf("%w: missing entry node", ErrInvalidJourneyGraph)
	}

	resolves := func(from, child string) error {
		if child == "" {
			return fmt.Errorf("%w: node %q has an empty child", ErrInvalidJourneyGraph, from)
		}
		if child == ExitNodeID {
			return nil
		}
		if _, ok := def.Nodes[child]; !ok {
			return fmt.Errorf("%w: node %q references unknown child %q", ErrInvalidJourneyGraph, from, child)
		}
		return nil
	}

	if err := resolves(EntryNodeID, def.Entry.EntryChild()); err != nil {
		return err
	}
	for _, id := range sortedKeys(def.Nodes) {
		node := def.Nodes[id]
		if w, ok := node.(WaitForNode); ok {
			if w.TimeoutSeconds <= 0 {
				return fmt.Errorf("%w: wait-for node %q requires a positive timeout", ErrInvalidJourneyGraph, id)
			}
			if len(w.SegmentChildren) == 0 {
				return fmt.Errorf("%w: wait-for node %q requires at least one segment child", ErrInvalidJourneyGraph, id)
			}
			for _, c := range w.SegmentChildren {
				if c.SegmentID == "" {
					return fmt.Errorf("%w: wait-for node %q has a segment child without a segment", ErrInvalidJourneyGraph, id)
				}
			}
		}
		for _, child := range node.Children() {
			if err := resolves(id, child); err != nil {
				return err
			}
		}
	}

	const (
		inProgress = iota + 1
		done
	)
	state := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		if id == ExitNodeID {
			return nil
		}
		switch state[id] {
		case inProgress:
			return fmt.Errorf("%w: node %q is part of a cycle", ErrInvalidJourneyGraph, id)
		case done:
			return nil
		}
		state[id] = inProgress

		node := def.Nodes[id]
		children := node.Children()
		if _, ok := node.(WaitForNode); ok {
			// the timeout edge may loop back
			children = children[1:]
		}
		for _, child := range children {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	if err := visit(def.Entry.EntryChild()); err != nil {
		return err
	}
	for _, id := range sortedKeys(def.Nodes) {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON encodes the definition in its stored form.
func (d JourneyDefinition) MarshalJSON() ([]byte, error) {
	entry, err := marshalTagged(string(d.Entry.JourneyNodeType()), d.Entry)
	if err != nil {
		return nil, err
	}
	nodes := make([]json.RawMessage, 0, len(d.Nodes))
	for _, id := range sortedKeys(d.Nodes) {
		n, err := marshalTagged(string(d.Nodes[id].JourneyNodeType()), d.Nodes[id])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return json.Marshal(journeyDefinitionJSON{
		EntryNode: entry,
		ExitNode:  json.RawMessage(`{"type":"ExitNode"}`),
		Nodes:     nodes,
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
