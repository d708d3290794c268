package schemas_test

import (
	"reflect"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// TestStructJSONTags pins the wire names shared with the overlay script.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Snapshot",
			structRef: schemas.Snapshot{},
			expectedTags: map[string]string{
				"Status":       "status",
				"Thought":      "thought",
				"Action":       "action",
				"Observation":  "observation",
				"NextAction":   "nextAction",
				"RawResponse":  "rawResponse",
				"Screenshot":   "screenshot",
				"ChatMessages": "chatMessages",
			},
		},
		{
			name:      "OverlayMessage",
			structRef: schemas.OverlayMessage{},
			expectedTags: map[string]string{
				"Name":          "name",
				"Snapshot":      "snapshot,omitempty",
				"Enabled":       "enabled,omitempty",
				"Message":       "message,omitempty",
				"SourceFrameID": "sourceFrameId,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tc.structRef)
			for field, want := range tc.expectedTags {
				f, ok := typ.FieldByName(field)
				require.True(t, ok, "field %s missing", field)
				assert.Equal(t, want, f.Tag.Get("json"), "field %s", field)
			}
		})
	}
}

func TestDefaultSnapshot(t *testing.T) {
	s := schemas.DefaultSnapshot()
	assert.Equal(t, schemas.StatusIdle, s.Status)
	assert.Empty(t, s.Thought)
	assert.Empty(t, s.Screenshot)
	assert.NotNil(t, s.ChatMessages)
	assert.Len(t, s.ChatMessages, 0)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"chatMessages":[]`)
}

func TestSnapshot_CloneIsolatesTranscript(t *testing.T) {
	s := schemas.DefaultSnapshot()
	s.ChatMessages = append(s.ChatMessages, schemas.ChatMessage{Role: schemas.RoleUser, Content: "hi"})

	c := s.Clone()
	c.ChatMessages[0].Content = "changed"

	assert.Equal(t, "hi", s.ChatMessages[0].Content)
}

func TestSnapshot_RedactedJSON(t *testing.T) {
	s := schemas.DefaultSnapshot()
	s.Screenshot = "data:image/png;base64,AAAA"
	s.Action = "<esc>"

	out, err := s.RedactedJSON()
	require.NoError(t, err)
	assert.Contains(t, out, schemas.RedactedScreenshot)
	assert.NotContains(t, out, "base64")
	assert.Contains(t, out, `"action": "<esc>"`)
	assert.Equal(t, "data:image/png;base64,AAAA", s.Screenshot, "original must be untouched")

	s.Screenshot = ""
	out, err = s.RedactedJSON()
	require.NoError(t, err)
	assert.NotContains(t, out, schemas.RedactedScreenshot)
}

func TestRenderToken(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"string", `"gg"`, "gg"},
		{"special string", `"<c-d>"`, "<c-d>"},
		{"object sorted", `{"type":"key","key":"esc"}`, `{"key":"esc","type":"key"}`},
		{"false", `false`, ""},
		{"number", `42`, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schemas.RenderToken(json.RawMessage(tt.raw)))
		})
	}
}

func TestDecisionResult_Unmarshal(t *testing.T) {
	var r schemas.DecisionResult
	err := json.Unmarshal([]byte(`{"thought":"t","action":{"type":"type","text":"hi"},"observation":"o","nextAction":"j"}`), &r)
	require.NoError(t, err)
	assert.Equal(t, "t", r.Thought)
	assert.Equal(t, `{"text":"hi","type":"type"}`, r.ActionText())
	assert.Equal(t, "j", r.NextActionText())

	var nilResult *schemas.DecisionResult
	assert.Empty(t, nilResult.ActionText())
	assert.Empty(t, nilResult.PrettyJSON())
}

func TestDecisionResult_PrettyJSON(t *testing.T) {
	r := &schemas.DecisionResult{Thought: "t", Action: json.RawMessage(`"<esc>"`)}
	out := r.PrettyJSON()
	assert.Contains(t, out, "\n  \"action\": \"<esc>\"")
	assert.Contains(t, out, `"observation": ""`)
	assert.NotContains(t, out, "nextAction")
}

func TestKeyModifier_Has(t *testing.T) {
	m := schemas.ModCtrl | schemas.ModShift
	assert.True(t, m.Has(schemas.ModCtrl))
	assert.True(t, m.Has(schemas.ModShift))
	assert.False(t, m.Has(schemas.ModAlt))
	assert.False(t, m.Has(schemas.ModNone))
}

func TestOverlayMessageBuilders(t *testing.T) {
	s := schemas.DefaultSnapshot()
	msg := schemas.SnapshotMessage(s)
	assert.Equal(t, schemas.MessageSnapshot, msg.Name)
	require.NotNil(t, msg.Snapshot)

	on := schemas.CaptureModeMessage(true)
	require.NotNil(t, on.Enabled)
	assert.True(t, *on.Enabled)
	assert.Equal(t, schemas.MessageCaptureMode, on.Name)
}
