package segment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

func appointmentEvent(id, operation string) domain.TrackEvent {
	props, _ := json.Marshal(map[string]string{"appointmentId": id, "operation": operation})
	return domain.TrackEvent{MessageID: id + operation, Event: "APPOINTMENT_UPDATE", Properties: props}
}

func cancelledCondition() domain.PerformedSegmentNode {
	return domain.PerformedSegmentNode{
		ID:    "cancelled",
		Event: "APPOINTMENT_UPDATE",
		Key:   "appointmentId",
		Properties: []domain.PropertyCondition{{
			Path:     "operation",
			Operator: domain.Operator{Type: domain.OperatorEquals, Value: "CANCELLED"},
		}},
	}
}

func TestEvaluateKeyed_CancelledAppointment(t *testing.T) {
	events := []domain.TrackEvent{
		appointmentEvent("A", "started"),
		appointmentEvent("A", "CANCELLED"),
	}

	assert.True(t, EvaluateKeyed(events, "appointmentId", "A", cancelledCondition()))
	assert.False(t, EvaluateKeyed(events, "appointmentId", "B", cancelledCondition()))
}

func TestEvaluateKeyed_JSONPathKey(t *testing.T) {
	events := []domain.TrackEvent{appointmentEvent("A", "CANCELLED")}

	assert.True(t, EvaluateKeyed(events, "$.appointmentId", "A", cancelledCondition()))
}

func TestEvaluateKeyed_IgnoresOtherEventNames(t *testing.T) {
	event := appointmentEvent("A", "CANCELLED")
	event.Event = "APPOINTMENT_CREATED"

	assert.False(t, EvaluateKeyed([]domain.TrackEvent{event}, "appointmentId", "A", cancelledCondition()))
}

func TestEvaluateKeyed_TimesOperators(t *testing.T) {
	events := []domain.TrackEvent{
		appointmentEvent("A", "CANCELLED"),
		appointmentEvent("A", "CANCELLED"),
	}

	tests := []struct {
		name  string
		op    domain.TimesOperator
		times int
		want  bool
	}{
		{"at least two", domain.TimesGreaterThanOrEqual, 2, true},
		{"at least three", domain.TimesGreaterThanOrEqual, 3, false},
		{"exactly two", domain.TimesEquals, 2, true},
		{"less than two", domain.TimesLessThan, 2, false},
		{"less than three", domain.TimesLessThan, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := cancelledCondition()
			cond.TimesOperator = tt.op
			cond.Times = tt.times
			assert.Equal(t, tt.want, EvaluateKeyed(events, "appointmentId", "A", cond))
		})
	}
}

func TestEvaluateKeyed_NoEventsDefaultThreshold(t *testing.T) {
	assert.False(t, EvaluateKeyed(nil, "appointmentId", "A", cancelledCondition()))
}

func TestMatchProperty(t *testing.T) {
	props := []byte(`{"plan":"pro","empty":"","nothing":null,"amount":12,"amountText":"7","word":"abc","nested":{"tier":"gold"}}`)

	tests := []struct {
		name string
		path string
		op   domain.Operator
		want bool
	}{
		{"equals string", "plan", domain.Operator{Type: domain.OperatorEquals, Value: "pro"}, true},
		{"equals mismatch", "plan", domain.Operator{Type: domain.OperatorEquals, Value: "free"}, false},
		{"equals number", "amount", domain.Operator{Type: domain.OperatorEquals, Value: "12"}, true},
		{"equals nested", "$.nested.tier", domain.Operator{Type: domain.OperatorEquals, Value: "gold"}, true},
		{"exists", "plan", domain.Operator{Type: domain.OperatorExists}, true},
		{"exists empty string", "empty", domain.Operator{Type: domain.OperatorExists}, false},
		{"exists null", "nothing", domain.Operator{Type: domain.OperatorExists}, false},
		{"exists missing", "missing", domain.Operator{Type: domain.OperatorExists}, false},
		{"less than", "amount", domain.Operator{Type: domain.OperatorLessThan, Number: 20}, true},
		{"less than numeric string", "amountText", domain.Operator{Type: domain.OperatorLessThan, Number: 10}, true},
		{"less than not a number", "word", domain.Operator{Type: domain.OperatorLessThan, Number: 10}, false},
		{"greater or equal", "amount", domain.Operator{Type: domain.OperatorGreaterThanOrEqual, Number: 12}, true},
		{"greater or equal missing", "missing", domain.Operator{Type: domain.OperatorGreaterThanOrEqual, Number: 0}, false},
		{"unsupported operator", "plan", domain.Operator{Type: "Within"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchProperty(props, tt.path, tt.op))
		})
	}
}

func TestMatchRaw(t *testing.T) {
	assert.True(t, MatchRaw(`"pro"`, domain.Operator{Type: domain.OperatorEquals, Value: "pro"}))
	assert.False(t, MatchRaw("", domain.Operator{Type: domain.OperatorExists}))
	assert.True(t, MatchRaw("", domain.Operator{Type: domain.OperatorNotExists}))
	assert.True(t, MatchRaw(`3`, domain.Operator{Type: domain.OperatorLessThan, Number: 4}))
}

func TestMatchValue_NotEqualsOnMissing(t *testing.T) {
	assert.True(t, MatchValue(gjson.Result{}, domain.Operator{Type: domain.OperatorNotEquals, Value: "x"}))
}

func TestEvaluate_BooleanTree(t *testing.T) {
	def := &domain.SegmentDefinition{
		Entry: domain.AndSegmentNode{ID: "root", Children: []string{"a", "either"}},
		Nodes: map[string]domain.SegmentNode{
			"a":      domain.TraitSegmentNode{ID: "a", Path: "plan"},
			"either": domain.OrSegmentNode{ID: "either", Children: []string{"b", "c"}},
			"b":      domain.PerformedSegmentNode{ID: "b", Event: "signup"},
			"c":      domain.PerformedSegmentNode{ID: "c", Event: "purchase"},
		},
	}

	values := map[string]bool{"a": true, "b": false, "c": true}
	assert.True(t, Evaluate(def, func(n domain.SegmentNode) bool { return values[n.NodeID()] }))

	values["c"] = false
	assert.False(t, Evaluate(def, func(n domain.SegmentNode) bool { return values[n.NodeID()] }))
}
