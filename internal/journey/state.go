package journey

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

const maxAppliedSignals = 256

type waitKind string

const (
	waitDelay   waitKind = "delay"
	waitForNode waitKind = "waitFor"
)

// wait is the suspension an instance is parked in
type wait struct {
	Kind     waitKind  `json:"kind"`
	NodeID   string    `json:"nodeId"`
	Deadline time.Time `json:"deadline"`
}

// instanceState is the persisted continuation of an instance
type instanceState struct {
	RunStartedAt   time.Time           `json:"runStartedAt"`
	Wait           *wait               `json:"wait,omitempty"`
	Events         []domain.TrackEvent `json:"events,omitempty"`
	AppliedSignals []string            `json:"appliedSignals,omitempty"`
	ExitedAt       *time.Time          `json:"exitedAt,omitempty"`
}

func decodeState(raw []byte) (*instanceState, error) {
	st := &instanceState{}
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("failed to decode instance state: %w", err)
	}
	return st, nil
}

func (s *instanceState) encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instance state: %w", err)
	}
	return raw, nil
}

func (s *instanceState) applied(signalID string) bool {
	for _, id := range s.AppliedSignals {
		if id == signalID {
			return true
		}
	}
	return false
}

func (s *instanceState) markApplied(signalID string) {
	if signalID == "" || s.applied(signalID) {
		return
	}
	s.AppliedSignals = append(s.AppliedSignals, signalID)
	if len(s.AppliedSignals) > maxAppliedSignals {
		s.AppliedSignals = s.AppliedSignals[len(s.AppliedSignals)-maxAppliedSignals:]
	}
}

func (s *instanceState) recordEvent(event domain.TrackEvent) {
	for _, e := range s.Events {
		if e.MessageID != "" && e.MessageID == event.MessageID {
			return
		}
	}
	s.Events = append(s.Events, event)
}
