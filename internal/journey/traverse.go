package journey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/segment"
)

// run is one transition of one instance
type run struct {
	runtime  *Runtime
	journey  *domain.Journey
	instance *domain.JourneyInstance
	state    *instanceState
}

func (r *run) log() *zap.Logger {
	return r.runtime.log.With(
		zap.String("workspace_id", r.instance.Key.WorkspaceID),
		zap.String("journey_id", r.instance.Key.JourneyID),
		zap.String("workflow_id", r.instance.WorkflowID))
}

func (r *run) runID() string {
	return strconv.FormatInt(r.state.RunStartedAt.UnixMilli(), 10)
}

func (r *run) finish(status domain.InstanceStatus) {
	r.instance.Status = status
	r.state.Wait = nil
}

// onSignal handles a signal for a parked instance
func (r *run) onSignal(ctx context.Context, sig domain.Signal) error {
	if sig.Event != nil {
		r.state.recordEvent(*sig.Event)
	}

	w := r.state.Wait
	if w == nil || w.Kind != waitForNode {
		return nil
	}
	node, ok := r.journey.Definition.Node(w.NodeID)
	if !ok {
		return fmt.Errorf("%w: waiting on unknown node %q", domain.ErrInvalidJourneyGraph, w.NodeID)
	}
	waitFor, ok := node.(domain.WaitForNode)
	if !ok {
		return fmt.Errorf("%w: node %q is not a wait-for node", domain.ErrInvalidJourneyGraph, w.NodeID)
	}

	var next string
	switch {
	case sig.Segment != nil && r.instance.Key.EventKey == "":
		if !sig.Segment.InSegment {
			return nil
		}
		for _, c := range waitFor.SegmentChildren {
			if c.SegmentID == sig.Segment.SegmentID {
				next = c.ID
				break
			}
		}
	case sig.Event != nil && r.instance.Key.EventKey != "":
		child, err := r.matchKeyedChild(ctx, waitFor)
		if err != nil {
			return err
		}
		next = child
	}
	if next == "" {
		return nil
	}

	r.state.Wait = nil
	r.record(ctx, domain.NodeWaitFor, waitFor.ID)
	return r.advance(ctx, next)
}

// onTimer resumes an instance whose delay or wait-for timeout expired
func (r *run) onTimer(ctx context.Context) error {
	w := r.state.Wait
	if w == nil {
		return nil
	}
	if r.runtime.clock.Now().Before(w.Deadline) {
		return nil
	}

	node, ok := r.journey.Definition.Node(w.NodeID)
	if !ok {
		return fmt.Errorf("%w: waiting on unknown node %q", domain.ErrInvalidJourneyGraph, w.NodeID)
	}
	r.state.Wait = nil

	switch n := node.(type) {
	case domain.DelayNode:
		r.record(ctx, domain.NodeDelay, n.ID)
		return r.advance(ctx, n.Child)
	case domain.WaitForNode:
		r.record(ctx, domain.NodeWaitFor, n.ID)
		return r.advance(ctx, n.TimeoutChild)
	default:
		return fmt.Errorf("%w: node %q cannot hold a timer", domain.ErrInvalidJourneyGraph, w.NodeID)
	}
}

// advance walks the graph from next until the instance parks or exits
func (r *run) advance(ctx context.Context, next string) error {
	r.instance.Status = domain.InstanceRunning
	for {
		if next == domain.ExitNodeID {
			r.record(ctx, domain.NodeExit, domain.ExitNodeID)
			now := r.runtime.clock.Now()
			r.state.ExitedAt = &now
			r.finish(domain.InstanceExited)
			r.log().Info("Journey instance exited")
			return nil
		}

		node, ok := r.journey.Definition.Node(next)
		if !ok {
			return fmt.Errorf("%w: unknown node %q", domain.ErrInvalidJourneyGraph, next)
		}

		switch n := node.(type) {
		case domain.MessageNode:
			if err := r.message(ctx, n); err != nil {
				return err
			}
			next = n.Child

		case domain.DelayNode:
			deadline, err := r.delayDeadline(ctx, n)
			if err != nil {
				return err
			}
			r.park(waitDelay, n.ID, deadline)
			return nil

		case domain.SegmentSplitNode:
			in, err := r.inSegment(ctx, n.Variant.Segment)
			if err != nil {
				return err
			}
			r.record(ctx, domain.NodeSegmentSplit, n.ID)
			if in {
				next = n.Variant.TrueChild
			} else {
				next = n.Variant.FalseChild
			}

		case domain.WaitForNode:
			child, err := r.waitForSatisfied(ctx, n)
			if err != nil {
				return err
			}
			if child != "" {
				r.record(ctx, domain.NodeWaitFor, n.ID)
				next = child
				continue
			}
			r.park(waitForNode, n.ID, r.runtime.clock.Now().Add(time.Duration(n.TimeoutSeconds)*time.Second))
			return nil

		default:
			return fmt.Errorf("%w: journey node %T", domain.ErrUnhandledDefinition, node)
		}
	}
}

func (r *run) park(kind waitKind, nodeID string, deadline time.Time) {
	r.state.Wait = &wait{Kind: kind, NodeID: nodeID, Deadline: deadline.UTC()}
	r.instance.Status = domain.InstanceWaiting
}

// message sends once per run and node. The ledger entry is written after the
// send so a replayed transition skips it.
func (r *run) message(ctx context.Context, n domain.MessageNode) error {
	inst := r.instance
	exited, err := r.runtime.instances.HasExited(ctx, inst.WorkflowID)
	if err != nil {
		return err
	}
	processed, err := r.runtime.instances.NodeProcessed(ctx, inst.WorkflowID, r.state.RunStartedAt, n.ID)
	if err != nil {
		return err
	}
	if exited || processed {
		r.log().Debug("Skipping processed message node", zap.String("node_id", n.ID))
		return nil
	}

	result := r.runtime.sender.Send(ctx, domain.MessageRequest{
		WorkspaceID:         inst.Key.WorkspaceID,
		JourneyID:           inst.Key.JourneyID,
		WorkflowID:          inst.WorkflowID,
		RunID:               r.runID(),
		NodeID:              n.ID,
		UserID:              inst.Key.UserID,
		TemplateID:          n.Variant.TemplateID,
		Channel:             n.Variant.Type,
		SubscriptionGroupID: n.SubscriptionGroupID,
	})
	r.runtime.metrics.MessagesTotal.WithLabelValues(string(n.Variant.Type), string(result.Outcome)).Inc()
	r.log().Info("Message node processed",
		zap.String("node_id", n.ID),
		zap.String("template_id", n.Variant.TemplateID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason))

	r.record(ctx, domain.NodeMessage, n.ID)
	return nil
}

// record writes a ledger entry. Failures are logged: the ledger only guards
// replays and the transition itself is persisted with the instance.
func (r *run) record(ctx context.Context, nodeType domain.JourneyNodeType, nodeID string) {
	inst := r.instance
	err := r.runtime.instances.RecordNodeProcessed(ctx, domain.UserJourneyEvent{
		WorkspaceID:      inst.Key.WorkspaceID,
		JourneyID:        inst.Key.JourneyID,
		UserID:           inst.Key.UserID,
		WorkflowID:       inst.WorkflowID,
		JourneyStartedAt: r.state.RunStartedAt,
		NodeType:         nodeType,
		NodeID:           nodeID,
		CreatedAt:        r.runtime.clock.Now(),
	})
	if err != nil {
		r.log().Warn("Failed to record journey node",
			zap.String("node_id", nodeID),
			zap.Error(err))
	}
}

func (r *run) inSegment(ctx context.Context, segmentID string) (bool, error) {
	a, err := r.runtime.projection.GetSegmentAssignment(ctx, r.instance.Key.WorkspaceID, r.instance.Key.UserID, segmentID)
	if err != nil {
		return false, err
	}
	return a != nil && a.InSegment, nil
}

// waitForSatisfied checks a wait-for node on entry: keyed instances against
// their accumulated events, others against current assignments.
func (r *run) waitForSatisfied(ctx context.Context, n domain.WaitForNode) (string, error) {
	if r.instance.Key.EventKey != "" {
		return r.matchKeyedChild(ctx, n)
	}
	for _, c := range n.SegmentChildren {
		in, err := r.inSegment(ctx, c.SegmentID)
		if err != nil {
			return "", err
		}
		if in {
			return c.ID, nil
		}
	}
	return "", nil
}

// matchKeyedChild returns the first segment child satisfied by the events
// seen for this instance's key.
func (r *run) matchKeyedChild(ctx context.Context, n domain.WaitForNode) (string, error) {
	key := r.instance.Key
	for _, c := range n.SegmentChildren {
		seg, err := r.runtime.resources.GetSegment(ctx, key.WorkspaceID, c.SegmentID)
		if err != nil {
			return "", err
		}
		if seg == nil {
			r.log().Warn("Wait-for segment not found", zap.String("segment_id", c.SegmentID))
			continue
		}
		if EvaluateKeyedSegment(&seg.Definition, r.state.Events, key.EventKey, key.EventKeyValue) {
			return c.ID, nil
		}
	}
	return "", nil
}

// EvaluateKeyedSegment resolves a segment over one key's events. Performed
// leaves count the events carrying the key, other leaves are false.
func EvaluateKeyedSegment(def *domain.SegmentDefinition, events []domain.TrackEvent, keyPath, keyValue string) bool {
	return segment.Evaluate(def, func(node domain.SegmentNode) bool {
		performed, ok := node.(domain.PerformedSegmentNode)
		if !ok {
			return false
		}
		path := keyPath
		if performed.Key != "" {
			path = performed.Key
		}
		return segment.EvaluateKeyed(events, path, keyValue, performed)
	})
}

// delayDeadline resolves when a delay node releases the instance
func (r *run) delayDeadline(ctx context.Context, n domain.DelayNode) (time.Time, error) {
	now := r.runtime.clock.Now()
	switch n.Variant.Type {
	case domain.DelaySecond:
		return now.Add(time.Duration(n.Variant.Seconds) * time.Second), nil
	case domain.DelayLocalTime:
		loc, err := r.userLocation(ctx)
		if err != nil {
			return time.Time{}, err
		}
		return NextLocalTime(now, loc, n.Variant.Hour, n.Variant.Minute, n.Variant.AllowedDaysOfWeek), nil
	default:
		return time.Time{}, fmt.Errorf("%w: delay variant %q", domain.ErrUnhandledDefinition, n.Variant.Type)
	}
}

func (r *run) userLocation(ctx context.Context) (*time.Location, error) {
	values, err := r.runtime.projection.GetUserPropertyValues(ctx, r.instance.Key.WorkspaceID, r.instance.Key.UserID)
	if err != nil {
		return nil, err
	}
	name := domain.PropertyString(values["timezone"])
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		r.log().Warn("Unknown user timezone, using UTC", zap.String("timezone", name))
		return time.UTC, nil
	}
	return loc, nil
}

// NextLocalTime returns the first instant strictly after now at hour:minute
// in loc, on one of the allowed weekdays when any are given.
func NextLocalTime(now time.Time, loc *time.Location, hour, minute int, allowed []time.Weekday) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	if len(allowed) == 0 {
		return candidate.UTC()
	}

	ok := map[time.Weekday]bool{}
	for _, d := range allowed {
		ok[d] = true
	}
	for i := 0; i < 7 && !ok[candidate.Weekday()]; i++ {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}
