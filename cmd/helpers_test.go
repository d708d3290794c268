package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/bus"
	"github.com/xkilldash9x/keybridge/internal/config"
	"github.com/xkilldash9x/keybridge/internal/mocks"
	"github.com/xkilldash9x/keybridge/internal/observability"
	"github.com/xkilldash9x/keybridge/internal/service"
)

// fakeFactory records what a command asked for and hands back prepared
// components, or err.
type fakeFactory struct {
	mu         sync.Mutex
	components *service.Components
	err        error

	cfg  config.Interface
	opts service.Options
}

func (f *fakeFactory) Create(_ context.Context, cfg config.Interface, opts service.Options, _ *zap.Logger) (*service.Components, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.components, nil
}

func (f *fakeFactory) captured() (config.Interface, service.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.opts
}

var errStopAfterCreate = errors.New("stop after create")

// testSession is a bridge session over in-memory collaborators.
type testSession struct {
	sess    *bridge.Session
	agent   *mocks.MockRemoteAgent
	bubbler *mocks.RecordingBubbler
	surface *mocks.FakeSurface
	bus     *bus.Bus
}

func newTestSession(t *testing.T, values map[string]interface{}, withSurface bool) *testSession {
	t.Helper()
	if values == nil {
		values = map[string]interface{}{
			schemas.SettingLLMEnabled:           true,
			schemas.SettingLLMAPIKey:            "key-123",
			schemas.SettingLLMIncludeScreenshot: false,
		}
	}
	logger := zaptest.NewLogger(t)
	ts := &testSession{
		agent:   new(mocks.MockRemoteAgent),
		bubbler: &mocks.RecordingBubbler{},
		bus:     bus.New(logger, 4),
	}
	t.Cleanup(ts.bus.Shutdown)

	deps := bridge.Deps{
		Settings:    mocks.NewMapSettings(values),
		Agent:       ts.agent,
		Interpreter: action.NewInterpreter(logger, ts.bubbler, new(mocks.MockEditor)),
		Bus:         ts.bus,
	}
	if withSurface {
		ts.surface = &mocks.FakeSurface{}
		deps.Surface = ts.surface
	}
	sess, err := bridge.NewSession(logger, deps)
	require.NoError(t, err)
	ts.sess = sess
	return ts
}

// prepareEnv isolates configuration and logging from the developer's
// machine.
func prepareEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("KEYBRIDGE_SETTINGS_PATH", filepath.Join(dir, "settings.yaml"))

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"}, zapcore.AddSync(io.Discard))
	t.Cleanup(observability.ResetForTest)
}

// executeCommand runs the command tree with args in an isolated
// environment and returns its output.
func executeCommand(t *testing.T, ctx context.Context, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	prepareEnv(t)
	return runRoot(ctx, factory, args...)
}

// runRoot runs the command tree without touching the environment, so it
// can be called from a goroutine after prepareEnv.
func runRoot(ctx context.Context, factory service.ComponentFactory, args ...string) (string, error) {
	root := newRootCmd(factory)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// scriptedLines feeds fixed input to the chat loop.
type scriptedLines struct {
	mu     sync.Mutex
	lines  []string
	errs   map[int]error
	pos    int
	closed bool
}

func (s *scriptedLines) Readline() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", io.EOF
	}
	i := s.pos
	s.pos++
	if err, ok := s.errs[i]; ok {
		return "", err
	}
	if i >= len(s.lines) {
		return "", io.EOF
	}
	return s.lines[i], nil
}

func (s *scriptedLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ lineReader = (*readline.Instance)(nil)
