package schemas

// Status is the coarse state of the overlay panel.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// Role identifies the author of a chat transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single entry in the running transcript.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the complete, renderable state of the overlay panel.
type Snapshot struct {
	Status       Status        `json:"status"`
	Thought      string        `json:"thought"`
	Action       string        `json:"action"`
	Observation  string        `json:"observation"`
	NextAction   string        `json:"nextAction"`
	RawResponse  string        `json:"rawResponse"`
	Screenshot   string        `json:"screenshot"`
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// RedactedScreenshot replaces screenshot data in the JSON view.
const RedactedScreenshot = "[screenshot data]"

// DefaultSnapshot returns the snapshot an overlay starts from.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Status:       StatusIdle,
		ChatMessages: []ChatMessage{},
	}
}

// Clone returns a deep copy so callers can't mutate the transcript in place.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ChatMessages = make([]ChatMessage, len(s.ChatMessages))
	copy(out.ChatMessages, s.ChatMessages)
	return out
}

// RedactedJSON renders the snapshot as indented JSON with the screenshot
// replaced by a placeholder.
func (s Snapshot) RedactedJSON() (string, error) {
	view := s.Clone()
	if view.Screenshot != "" {
		view.Screenshot = RedactedScreenshot
	}
	b, err := displayJSON.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
