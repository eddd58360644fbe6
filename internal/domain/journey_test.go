package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingJourney = `{
	"entryNode": {"type": "SegmentEntryNode", "segment": "seg-signup", "child": "welcome"},
	"nodes": [
		{"type": "MessageNode", "id": "welcome", "child": "wait", "variant": {"type": "Email", "templateId": "tpl-welcome"}},
		{"type": "DelayNode", "id": "wait", "child": "activated", "variant": {"type": "LocalTime", "hour": 9, "minute": 30, "allowedDaysOfWeek": [1, 2, 3, 4, 5]}},
		{"type": "WaitForNode", "id": "activated", "timeoutSeconds": 86400, "timeoutChild": "nudge",
			"segmentChildren": [{"id": "ExitNode", "segmentId": "seg-active"}]},
		{"type": "SegmentSplitNode", "id": "nudge", "variant": {"type": "Boolean", "segment": "seg-mobile", "trueChild": "push", "falseChild": "ExitNode"}},
		{"type": "MessageNode", "id": "push", "child": "ExitNode", "variant": {"type": "MobilePush", "templateId": "tpl-push"}}
	]
}`

func TestParseJourneyDefinition(t *testing.T) {
	def, err := ParseJourneyDefinition([]byte(onboardingJourney))
	require.NoError(t, err)

	entry, ok := def.Entry.(SegmentEntryNode)
	require.True(t, ok)
	assert.Equal(t, "seg-signup", entry.Segment)
	assert.Len(t, def.Nodes, 5)

	node, ok := def.Node("wait")
	require.True(t, ok)
	delay := node.(DelayNode)
	assert.Equal(t, DelayLocalTime, delay.Variant.Type)
	assert.Equal(t, 9, delay.Variant.Hour)
	assert.Equal(t, 30, delay.Variant.Minute)
	assert.Len(t, delay.Variant.AllowedDaysOfWeek, 5)

	assert.Equal(t, []string{"seg-active", "seg-signup"}, def.SegmentReferences())
}

func TestParseJourneyDefinition_RoundTrip(t *testing.T) {
	def, err := ParseJourneyDefinition([]byte(onboardingJourney))
	require.NoError(t, err)

	encoded, err := json.Marshal(def)
	require.NoError(t, err)

	again, err := ParseJourneyDefinition(encoded)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestParseJourneyDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name:    "not json",
			raw:     `{`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name:    "missing entry node",
			raw:     `{"nodes": []}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name:    "event entry without key",
			raw:     `{"entryNode": {"type": "EventEntryNode", "event": "BOOKED", "child": "ExitNode"}, "nodes": []}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name: "unknown channel",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "m"}, "nodes": [
				{"type": "MessageNode", "id": "m", "child": "ExitNode", "variant": {"type": "Fax", "templateId": "t"}}]}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name: "non positive delay",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "d"}, "nodes": [
				{"type": "DelayNode", "id": "d", "child": "ExitNode", "variant": {"type": "Second", "seconds": 0}}]}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name: "invalid local time",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "d"}, "nodes": [
				{"type": "DelayNode", "id": "d", "child": "ExitNode", "variant": {"type": "LocalTime", "hour": 24}}]}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name: "reserved node id",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "ExitNode"}, "nodes": [
				{"type": "MessageNode", "id": "ExitNode", "child": "ExitNode", "variant": {"type": "Email", "templateId": "t"}}]}`,
			wantErr: ErrMalformedDefinition,
		},
		{
			name: "duplicate node id",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "m"}, "nodes": [
				{"type": "MessageNode", "id": "m", "child": "ExitNode", "variant": {"type": "Email", "templateId": "t"}},
				{"type": "MessageNode", "id": "m", "child": "ExitNode", "variant": {"type": "Email", "templateId": "t"}}]}`,
			wantErr: ErrInvalidJourneyGraph,
		},
		{
			name: "unknown child",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "m"}, "nodes": [
				{"type": "MessageNode", "id": "m", "child": "nowhere", "variant": {"type": "Email", "templateId": "t"}}]}`,
			wantErr: ErrInvalidJourneyGraph,
		},
		{
			name: "wait-for without timeout",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "w"}, "nodes": [
				{"type": "WaitForNode", "id": "w", "timeoutChild": "ExitNode", "segmentChildren": [{"id": "ExitNode", "segmentId": "s2"}]}]}`,
			wantErr: ErrInvalidJourneyGraph,
		},
		{
			name: "wait-for without segment children",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "w"}, "nodes": [
				{"type": "WaitForNode", "id": "w", "timeoutSeconds": 60, "timeoutChild": "ExitNode", "segmentChildren": []}]}`,
			wantErr: ErrInvalidJourneyGraph,
		},
		{
			name: "cycle",
			raw: `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "a"}, "nodes": [
				{"type": "MessageNode", "id": "a", "child": "b", "variant": {"type": "Email", "templateId": "t"}},
				{"type": "DelayNode", "id": "b", "child": "a", "variant": {"type": "Second", "seconds": 60}}]}`,
			wantErr: ErrInvalidJourneyGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJourneyDefinition([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseJourneyDefinition_WaitForTimeoutMayLoop(t *testing.T) {
	raw := `{"entryNode": {"type": "SegmentEntryNode", "segment": "s", "child": "remind"}, "nodes": [
		{"type": "MessageNode", "id": "remind", "child": "w", "variant": {"type": "Sms", "templateId": "t"}},
		{"type": "WaitForNode", "id": "w", "timeoutSeconds": 3600, "timeoutChild": "remind",
			"segmentChildren": [{"id": "ExitNode", "segmentId": "s-done"}]}]}`

	_, err := ParseJourneyDefinition([]byte(raw))
	assert.NoError(t, err)
}

func TestChannelType_Identifier(t *testing.T) {
	assert.Equal(t, "email", ChannelEmail.Identifier())
	assert.Equal(t, "phone", ChannelSms.Identifier())
	assert.Equal(t, "deviceToken", ChannelMobilePush.Identifier())
	assert.Empty(t, ChannelType("Fax").Identifier())
}
