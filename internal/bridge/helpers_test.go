package bridge_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/bus"
	"github.com/xkilldash9x/keybridge/internal/mocks"
)

type harness struct {
	sess     *bridge.Session
	agent    *mocks.MockRemoteAgent
	surface  *mocks.FakeSurface
	settings *mocks.MapSettings
	bubbler  *mocks.RecordingBubbler
	editor   *mocks.MockEditor
	bus      *bus.Bus
}

type harnessConfig struct {
	settings map[string]interface{}
	headless bool
	page     schemas.PageInfo
	opts     []bridge.Option
}

// readySettings is a configuration that lets a round reach the model.
func readySettings() map[string]interface{} {
	return map[string]interface{}{
		schemas.SettingLLMEnabled:           true,
		schemas.SettingLLMAPIKey:            "key-123",
		schemas.SettingLLMIncludeScreenshot: false,
		schemas.SettingLLMUserPrompt:        "Analyze this page.",
	}
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.settings == nil {
		cfg.settings = readySettings()
	}
	logger := zaptest.NewLogger(t)

	h := &harness{
		agent:    new(mocks.MockRemoteAgent),
		settings: mocks.NewMapSettings(cfg.settings),
		bubbler:  &mocks.RecordingBubbler{},
		editor:   new(mocks.MockEditor),
		bus:      bus.New(logger, 8),
	}
	t.Cleanup(h.bus.Shutdown)

	deps := bridge.Deps{
		Settings:    h.settings,
		Agent:       h.agent,
		Interpreter: action.NewInterpreter(logger, h.bubbler, h.editor),
		Page:        cfg.page,
		Bus:         h.bus,
	}
	if !cfg.headless {
		h.surface = &mocks.FakeSurface{}
		deps.Surface = h.surface
	}

	sess, err := bridge.NewSession(logger, deps, cfg.opts...)
	require.NoError(t, err)
	h.sess = sess
	return h
}

// recordingArchiver captures archived transcripts.
type recordingArchiver struct {
	mu       sync.Mutex
	sessions []string
	urls     []string
	last     []schemas.ChatMessage
	err      error
}

func (a *recordingArchiver) ArchiveTranscript(_ context.Context, sessionID, pageURL string, messages []schemas.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sessionID)
	a.urls = append(a.urls, pageURL)
	a.last = append([]schemas.ChatMessage(nil), messages...)
	return a.err
}

func (a *recordingArchiver) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
