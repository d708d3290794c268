package schemas

// MessageName identifies a message exchanged with the overlay panel.
type MessageName string

const (
	// Outbound, bridge to overlay.
	MessageSnapshot    MessageName = "llmSnapshot"
	MessageCaptureMode MessageName = "llmCaptureMode"

	// Inbound, overlay to bridge.
	MessageRequestSnapshot MessageName = "requestSnapshot"
	MessageRequestHide     MessageName = "requestHide"
	MessageChatSend        MessageName = "llmChatSend"
	MessageModeEscape      MessageName = "modeEscape"
)

// OverlayMessage is the envelope posted to and received from the overlay.
// Only the fields relevant to Name are populated.
type OverlayMessage struct {
	Name     MessageName `json:"name"`
	Snapshot *Snapshot   `json:"snapshot,omitempty"`
	Enabled  *bool       `json:"enabled,omitempty"`
	Message  string      `json:"message,omitempty"`
	// SourceFrameID is set by the overlay script to the frame that raised the message.
	SourceFrameID string `json:"sourceFrameId,omitempty"`
}

// SnapshotMessage builds an llmSnapshot message carrying a copy of s.
func SnapshotMessage(s Snapshot) OverlayMessage {
	c := s.Clone()
	return OverlayMessage{Name: MessageSnapshot, Snapshot: &c}
}

// CaptureModeMessage builds an llmCaptureMode message.
func CaptureModeMessage(enabled bool) OverlayMessage {
	return OverlayMessage{Name: MessageCaptureMode, Enabled: &enabled}
}

// ShowOptions controls how the overlay is revealed.
type ShowOptions struct {
	Focus         bool
	SourceFrameID string
}
