// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/config"
	"github.com/xkilldash9x/keybridge/internal/keyseq"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Settings() config.SettingsConfig {
	args := m.Called()
	return args.Get(0).(config.SettingsConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Overlay() config.OverlayConfig {
	args := m.Called()
	return args.Get(0).(config.OverlayConfig)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserRemoteURL(u string) {
	m.Called(u)
}

// -- Settings Mock --

// MockSettingsStore mocks schemas.SettingsStore.
type MockSettingsStore struct {
	mock.Mock
}

func (m *MockSettingsStore) Get(key string) interface{} {
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockSettingsStore) Set(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockSettingsStore) OnLoaded(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSettingsStore) IsLoaded() bool {
	args := m.Called()
	return args.Bool(0)
}

// -- Remote Agent Mock --

// MockRemoteAgent mocks schemas.RemoteAgent.
type MockRemoteAgent struct {
	mock.Mock
}

func (m *MockRemoteAgent) SendAgentRequest(ctx context.Context, req schemas.AgentRequest) (*schemas.AgentResponse, error) {
	args := m.Called(ctx, req)
	var resp *schemas.AgentResponse
	if r := args.Get(0); r != nil {
		resp = r.(*schemas.AgentResponse)
	}
	return resp, args.Error(1)
}

// -- LLM Client Mock --

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Page Mocks --

// MockPageInfo mocks schemas.PageInfo.
type MockPageInfo struct {
	mock.Mock
}

func (m *MockPageInfo) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageInfo) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockScreenshotCapturer mocks schemas.ScreenshotCapturer.
type MockScreenshotCapturer struct {
	mock.Mock
}

func (m *MockScreenshotCapturer) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

// -- Editor Mock --

// MockEditor mocks action.Editor.
type MockEditor struct {
	mock.Mock
}

func (m *MockEditor) ResolveEditable(ctx context.Context, selector string) (action.Target, bool, error) {
	args := m.Called(ctx, selector)
	return args.Get(0).(action.Target), args.Bool(1), args.Error(2)
}

func (m *MockEditor) FocusedEditable(ctx context.Context) (action.Target, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(action.Target), args.Bool(1), args.Error(2)
}

func (m *MockEditor) SetText(ctx context.Context, target action.Target, text string) error {
	args := m.Called(ctx, target, text)
	return args.Error(0)
}

// -- Key Bubbler --

// BubbledEvent is one call observed by RecordingBubbler.
type BubbledEvent struct {
	Type  keyseq.EventType
	Event keyseq.KeyEvent
}

// RecordingBubbler is a keyseq.Bubbler that records every event in order.
type RecordingBubbler struct {
	mu     sync.Mutex
	events []BubbledEvent
	// Err, when set, is returned from every Bubble call.
	Err error
}

func (r *RecordingBubbler) Bubble(_ context.Context, t keyseq.EventType, ev keyseq.KeyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, BubbledEvent{Type: t, Event: ev})
	return nil
}

// Events returns a copy of the recorded events.
func (r *RecordingBubbler) Events() []BubbledEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BubbledEvent(nil), r.events...)
}

// Keys returns the key of every recorded keydown.
func (r *RecordingBubbler) Keys() []string {
	var keys []string
	for _, e := range r.Events() {
		if e.Type == keyseq.KeyDown {
			keys = append(keys, e.Event.Key)
		}
	}
	return keys
}

// -- Overlay Surface --

// FakeSurface is an in-memory schemas.OverlaySurface that records calls.
type FakeSurface struct {
	mu          sync.Mutex
	initialized bool
	showing     bool
	hidden      bool

	InitCalls   int
	ShowCalls   []schemas.ShowOptions
	HideCalls   int
	Posts       []schemas.OverlayMessage
	CaptureLog  []bool
	FramesAwait []int

	// OnAwaitFrames runs inside AwaitFrames, letting tests observe state mid-capture.
	OnAwaitFrames func()
}

func (f *FakeSurface) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitCalls++
	f.initialized = true
	return nil
}

func (f *FakeSurface) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *FakeSurface) Show(_ context.Context, msg schemas.OverlayMessage, opts schemas.ShowOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.showing = true
	f.ShowCalls = append(f.ShowCalls, opts)
	f.Posts = append(f.Posts, msg)
	return nil
}

func (f *FakeSurface) Hide(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.showing = false
	f.HideCalls++
	return nil
}

func (f *FakeSurface) Showing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.showing
}

func (f *FakeSurface) Post(_ context.Context, msg schemas.OverlayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Posts = append(f.Posts, msg)
	return nil
}

func (f *FakeSurface) SetHiddenForCapture(_ context.Context, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = hidden
	f.CaptureLog = append(f.CaptureLog, hidden)
	return nil
}

func (f *FakeSurface) AwaitFrames(_ context.Context, n int) error {
	f.mu.Lock()
	f.FramesAwait = append(f.FramesAwait, n)
	hook := f.OnAwaitFrames
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// HiddenForCapture reports the current capture presentation state.
func (f *FakeSurface) HiddenForCapture() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hidden
}

// PostsNamed returns recorded messages with the given name.
func (f *FakeSurface) PostsNamed(name schemas.MessageName) []schemas.OverlayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schemas.OverlayMessage
	for _, p := range f.Posts {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// LastSnapshot returns the snapshot carried by the most recent llmSnapshot message.
func (f *FakeSurface) LastSnapshot() (schemas.Snapshot, bool) {
	msgs := f.PostsNamed(schemas.MessageSnapshot)
	if len(msgs) == 0 || msgs[len(msgs)-1].Snapshot == nil {
		return schemas.Snapshot{}, false
	}
	return *msgs[len(msgs)-1].Snapshot, true
}

// -- Settings Map --

// MapSettings is an in-memory schemas.SettingsStore that is always loaded.
type MapSettings struct {
	mu     sync.Mutex
	values map[string]interface{}
	SetErr error
}

// NewMapSettings creates a MapSettings seeded with values.
func NewMapSettings(values map[string]interface{}) *MapSettings {
	cp := make(map[string]interface{}, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &MapSettings{values: cp}
}

func (s *MapSettings) Get(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *MapSettings) Set(_ context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.values[key] = value
	return nil
}

func (s *MapSettings) OnLoaded(context.Context) error { return nil }

func (s *MapSettings) IsLoaded() bool { return true }
