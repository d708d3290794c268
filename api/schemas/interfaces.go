package schemas

import (
	"context"
)

// -- Settings --

// Setting keys read by the bridge.
const (
	SettingLLMEnabled           = "llmEnabled"
	SettingLLMAPIKey            = "llmApiKey"
	SettingLLMIncludeScreenshot = "llmIncludeScreenshot"
	SettingLLMUserPrompt        = "llmUserPrompt"
)

// SettingsStore is an asynchronously loaded key/value settings store.
//
//go:generate mockery --name SettingsStore --output ../../internal/mocks --outpkg mocks
type SettingsStore interface {
	// Get returns the current value for key, or nil when unset.
	Get(key string) interface{}
	// Set persists a value.
	Set(ctx context.Context, key string, value interface{}) error
	// OnLoaded blocks until the store has loaded or ctx is done.
	OnLoaded(ctx context.Context) error
	IsLoaded() bool
}

// -- Remote model service --

// RemoteAgent forwards a prompt plus page context to the model service.
// A returned error means the request itself failed (transport, timeout);
// model-side failures are reported through AgentResponse.Error.
type RemoteAgent interface {
	SendAgentRequest(ctx context.Context, req AgentRequest) (*AgentResponse, error)
}

// ModelTier picks between the fast and the more capable configured model.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// ImagePart is binary image input for a multimodal generation request.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// GenerationOptions holds sampling parameters for a single request.
type GenerationOptions struct {
	Temperature     float64
	ForceJSONFormat bool
	TopP            float64
	TopK            int
}

// GenerationRequest is a provider neutral model request.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       []ImagePart
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient is implemented by every model provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Page --

// PageInfo exposes the context of the live page.
type PageInfo interface {
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// ScreenshotCapturer captures the visible viewport as PNG bytes.
type ScreenshotCapturer interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// -- Overlay --

// OverlaySurface is the rendering surface that hosts the overlay panel.
// Inbound messages from the panel are delivered on the overlay bus, not here.
type OverlaySurface interface {
	// Init loads the panel. It is idempotent.
	Init(ctx context.Context) error
	Initialized() bool
	Show(ctx context.Context, msg OverlayMessage, opts ShowOptions) error
	Hide(ctx context.Context) error
	Showing() bool
	Post(ctx context.Context, msg OverlayMessage) error
	// SetHiddenForCapture toggles the presentation used while a screenshot is taken.
	SetHiddenForCapture(ctx context.Context, hidden bool) error
	// AwaitFrames waits for n rendered frames.
	AwaitFrames(ctx context.Context, n int) error
}
