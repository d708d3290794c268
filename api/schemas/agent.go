package schemas

import (
	"bytes"

	json "github.com/json-iterator/go"
)

// displayJSON keeps key notation such as <esc> readable and map order stable.
var displayJSON = json.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// PageContext describes the page the user is looking at when a request is made.
type PageContext struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// AgentRequest is what the bridge sends to the remote model service.
type AgentRequest struct {
	Prompt            string      `json:"prompt"`
	IncludeScreenshot bool        `json:"includeScreenshot"`
	PageContext       PageContext `json:"pageContext"`
	// Tier selects the model; empty means the powerful one.
	Tier ModelTier `json:"tier,omitempty"`
}

// DecisionResult is the structured decision returned by the model.
// Action and NextAction are kept raw; they are either a key-notation string
// or an action object and are interpreted downstream.
type DecisionResult struct {
	Thought     string          `json:"thought"`
	Action      json.RawMessage `json:"action,omitempty"`
	Observation string          `json:"observation"`
	NextAction  json.RawMessage `json:"nextAction,omitempty"`
}

// ActionText renders the action field for display.
func (d *DecisionResult) ActionText() string {
	if d == nil {
		return ""
	}
	return RenderToken(d.Action)
}

// NextActionText renders the nextAction field for display.
func (d *DecisionResult) NextActionText() string {
	if d == nil {
		return ""
	}
	return RenderToken(d.NextAction)
}

// PrettyJSON renders the decision as indented JSON for the transcript.
func (d *DecisionResult) PrettyJSON() string {
	if d == nil {
		return ""
	}
	b, err := displayJSON.MarshalIndent(d, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// AgentResponse is the reply from the remote model service.
// A non-empty Error means the request failed on the remote side.
type AgentResponse struct {
	Error       string          `json:"error,omitempty"`
	RawResponse string          `json:"rawResponse,omitempty"`
	Screenshot  string          `json:"screenshot,omitempty"`
	Result      *DecisionResult `json:"result,omitempty"`
}

// RenderToken turns a raw action token into display text. Strings are
// unquoted, null and empty tokens render as "", anything else is compacted JSON.
func RenderToken(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	if bytes.Equal(trimmed, []byte("false")) {
		return ""
	}
	var buf bytes.Buffer
	if err := compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func compact(buf *bytes.Buffer, raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := displayJSON.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}
