// Package journey runs durable per-user journey instances. An instance is a
// state machine persisted after every transition; it is driven by signals
// (segment changes, keyed track events, cancellation) and by timers, and
// holds no goroutine while it is parked.
package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
	"github.com/BarkinBalci/engagement-engine/internal/repository"
)

const maxConflictRetries = 3

// Runtime applies signals and timers to journey instances
type Runtime struct {
	instances  repository.JourneyInstanceRepository
	resources  repository.ResourceRepository
	projection repository.AssignmentProjectionRepository
	sender     MessageSender
	claims     SignalClaimer
	clock      Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewRuntime creates a new journey runtime. claims may be nil.
func NewRuntime(
	instances repository.JourneyInstanceRepository,
	resources repository.ResourceRepository,
	projection repository.AssignmentProjectionRepository,
	sender MessageSender,
	claims SignalClaimer,
	clock Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) *Runtime {
	if clock == nil {
		clock = SystemClock()
	}
	return &Runtime{
		instances:  instances,
		resources:  resources,
		projection: projection,
		sender:     sender,
		claims:     claims,
		clock:      clock,
		metrics:    m,
		log:        log,
	}
}

// input is one thing that happened to an instance
type input struct {
	signal *domain.Signal
	timer  bool
	cancel bool
}

func (in input) label() string {
	switch {
	case in.signal != nil:
		return string(in.signal.Type)
	case in.timer:
		return "Timer"
	default:
		return "Cancel"
	}
}

// Signal starts the addressed instance or delivers the signal to it. It is
// idempotent under redelivery of the same signal id.
func (r *Runtime) Signal(ctx context.Context, sig domain.Signal) error {
	if r.claims != nil && sig.ID != "" {
		seen, err := r.claims.Seen(ctx, sig.ID)
		if err != nil {
			return fmt.Errorf("failed to check signal claim: %w", err)
		}
		if seen {
			r.metrics.SignalsApplied.WithLabelValues(string(sig.Type), "duplicate").Inc()
			r.log.Debug("Skipping claimed signal",
				zap.String("signal_id", sig.ID),
				zap.String("workflow_id", sig.WorkflowID))
			return nil
		}
	}

	in := input{signal: &sig}
	if sig.Type == domain.SignalCancel {
		in = input{signal: &sig, cancel: true}
	}
	if err := r.apply(ctx, sig.Key, in); err != nil {
		return err
	}

	// a lost record only costs a slower duplicate check
	if r.claims != nil && sig.ID != "" {
		if err := r.claims.Record(context.WithoutCancel(ctx), sig.ID); err != nil {
			r.log.Warn("Failed to record signal claim",
				zap.String("signal_id", sig.ID),
				zap.Error(err))
		}
	}
	return nil
}

// FireDueTimers resumes up to limit instances whose timer has expired and
// returns how many were resumed.
func (r *Runtime) FireDueTimers(ctx context.Context, limit int) (int, error) {
	due, err := r.instances.DueInstances(ctx, r.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	fired := 0
	var errs []error
	for _, inst := range due {
		if err := r.apply(ctx, inst.Key, input{timer: true}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.WorkflowID, err))
			continue
		}
		fired++
	}
	r.metrics.TimersFired.Add(float64(fired))
	return fired, errors.Join(errs...)
}

// Cancel stops one instance, dropping its pending timer and waits
func (r *Runtime) Cancel(ctx context.Context, key domain.InstanceKey) error {
	return r.apply(ctx, key, input{cancel: true})
}

// CancelJourney cancels every active instance of a journey and returns how
// many were cancelled.
func (r *Runtime) CancelJourney(ctx context.Context, workspaceID, journeyID string) (int, error) {
	active, err := r.instances.ActiveInstances(ctx, workspaceID, journeyID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	var errs []error
	for _, inst := range active {
		if err := r.Cancel(ctx, inst.Key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.WorkflowID, err))
			continue
		}
		cancelled++
	}

	r.log.Info("Cancelled journey instances",
		zap.String("workspace_id", workspaceID),
		zap.String("journey_id", journeyID),
		zap.Int("count", cancelled))
	return cancelled, errors.Join(errs...)
}

// apply loads, transitions and saves one instance, retrying when another
// writer got there first.
func (r *Runtime) apply(ctx context.Context, key domain.InstanceKey, in input) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		result, err := r.applyOnce(ctx, key, in)
		if errors.Is(err, repository.ErrVersionConflict) {
			r.log.Debug("Instance changed concurrently, retrying",
				zap.String("workflow_id", key.WorkflowID()),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			r.metrics.SignalsApplied.WithLabelValues(in.label(), "error").Inc()
			return err
		}
		r.metrics.SignalsApplied.WithLabelValues(in.label(), result).Inc()
		return nil
	}
	r.metrics.SignalsApplied.WithLabelValues(in.label(), "conflict").Inc()
	return fmt.Errorf("%w: %s", ErrInstanceConflict, key.WorkflowID())
}

func (r *Runtime) applyOnce(ctx context.Context, key domain.InstanceKey, in input) (string, error) {
	workflowID := key.WorkflowID()

	inst, err := r.instances.GetInstance(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		if in.signal == nil || in.cancel {
			return "ignored", nil
		}
		return r.start(ctx, key, *in.signal)
	}
	if inst.Status.Terminal() {
		return "ignored", nil
	}

	st, err := decodeState(inst.State)
	if err != nil {
		return "", err
	}
	if in.signal != nil && st.applied(in.signal.ID) {
		return "duplicate", nil
	}

	journey, err := r.resources.GetJourney(ctx, key.WorkspaceID, key.JourneyID)
	if err != nil {
		return "", err
	}

	expected := inst.Version
	run := &run{runtime: r, journey: journey, instance: inst, state: st}

	switch {
	case in.cancel:
		run.finish(domain.InstanceCancelled)
	case journey == nil:
		r.log.Warn("Journey no longer exists, cancelling instance",
			zap.String("workflow_id", workflowID))
		run.finish(domain.InstanceCancelled)
	case in.timer:
		if err := run.onTimer(ctx); err != nil {
			return "", err
		}
	default:
		if err := run.onSignal(ctx, *in.signal); err != nil {
			return "", err
		}
	}

	if in.signal != nil {
		st.markApplied(in.signal.ID)
	}
	if err := r.save(ctx, inst, st, expected); err != nil {
		return "", err
	}
	return "applied", nil
}

// start creates an instance when the signal satisfies the journey's entry
func (r *Runtime) start(ctx context.Context, key domain.InstanceKey, sig domain.Signal) (string, error) {
	journey, err := r.resources.GetJourney(ctx, key.WorkspaceID, key.JourneyID)
	if err != nil {
		return "", err
	}
	if journey == nil || journey.Status != domain.JourneyRunning {
		return "ignored", nil
	}

	st := &instanceState{RunStartedAt: r.runStart(sig)}
	switch entry := journey.Definition.Entry.(type) {
	case domain.SegmentEntryNode:
		if sig.Segment == nil || sig.Segment.SegmentID != entry.Segment || !sig.Segment.InSegment {
			return "ignored", nil
		}
	case domain.EventEntryNode:
		if sig.Event == nil || sig.Event.Event != entry.Event || key.EventKey != entry.Key {
			return "ignored", nil
		}
		st.recordEvent(*sig.Event)
	default:
		return "", fmt.Errorf("%w: entry node %T", domain.ErrUnhandledDefinition, entry)
	}

	// a user who exited the journey does not re-enter it
	exited, err := r.instances.HasExited(ctx, key.WorkflowID())
	if err != nil {
		return "", err
	}
	if exited {
		return "ignored", nil
	}

	inst := &domain.JourneyInstance{
		WorkflowID: key.WorkflowID(),
		Key:        key,
		Status:     domain.InstanceRunning,
	}
	run := &run{runtime: r, journey: journey, instance: inst, state: st}
	run.record(ctx, journey.Definition.Entry.JourneyNodeType(), domain.EntryNodeID)
	if err := run.advance(ctx, journey.Definition.Entry.EntryChild()); err != nil {
		return "", err
	}

	st.markApplied(sig.ID)
	if err := r.save(ctx, inst, st, 0); err != nil {
		return "", err
	}

	r.log.Info("Journey instance started",
		zap.String("workspace_id", key.WorkspaceID),
		zap.String("journey_id", key.JourneyID),
		zap.String("workflow_id", inst.WorkflowID),
		zap.String("status", string(inst.Status)))
	return "started", nil
}

// runStart anchors the run at the signal's send time so a redelivered start
// maps onto the same ledger entries.
func (r *Runtime) runStart(sig domain.Signal) time.Time {
	if !sig.SentAt.IsZero() {
		return sig.SentAt.UTC().Truncate(time.Millisecond)
	}
	return r.clock.Now().UTC().Truncate(time.Millisecond)
}

func (r *Runtime) save(ctx context.Context, inst *domain.JourneyInstance, st *instanceState, expected int64) error {
	raw, err := st.encode()
	if err != nil {
		return err
	}
	inst.State = raw
	if st.Wait != nil && !inst.Status.Terminal() {
		deadline := st.Wait.Deadline
		inst.WakeAt = &deadline
	} else {
		inst.WakeAt = nil
	}
	return r.instances.SaveInstance(ctx, inst, expected)
}
