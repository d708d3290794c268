package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/mocks"
)

func TestShowAndHide(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	require.NoError(t, h.sess.Show(ctx))
	require.NoError(t, h.sess.Show(ctx))
	assert.True(t, h.surface.Showing())
	assert.True(t, h.sess.InMode())
	assert.Equal(t, []schemas.ShowOptions{{}, {}}, h.surface.ShowCalls, "shown without focus")

	last, ok := h.surface.LastSnapshot()
	require.True(t, ok)
	assert.Equal(t, schemas.DefaultSnapshot(), last)

	require.NoError(t, h.sess.Hide(ctx))
	assert.False(t, h.surface.Showing())
	assert.False(t, h.sess.InMode())
	assert.Equal(t, 1, h.surface.HideCalls)
	assert.Equal(t, schemas.StatusIdle, h.sess.Snapshot().Status)
}

func TestHide_ResetsStatus(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.agent.On("SendAgentRequest", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	require.NoError(t, h.sess.RunChat(ctx, "fail please"))
	require.Equal(t, schemas.StatusError, h.sess.Snapshot().Status)

	require.NoError(t, h.sess.Hide(ctx))
	assert.Equal(t, schemas.StatusIdle, h.sess.Snapshot().Status)
}

func TestExitMode_HidesOnce(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	require.NoError(t, h.sess.Show(ctx))

	h.sess.ExitMode(ctx)
	assert.False(t, h.sess.InMode())
	assert.False(t, h.surface.Showing())
	assert.Equal(t, 1, h.surface.HideCalls)
	assert.Equal(t, schemas.StatusIdle, h.sess.Snapshot().Status)

	h.sess.ExitMode(ctx)
	assert.Equal(t, 1, h.surface.HideCalls, "no mode left to exit")

	// Showing again starts a fresh mode.
	require.NoError(t, h.sess.Show(ctx))
	assert.True(t, h.sess.InMode())
}

func TestHeadlessOverlayOperations(t *testing.T) {
	h := newHarness(t, harnessConfig{headless: true})
	ctx := context.Background()

	assert.ErrorIs(t, h.sess.Show(ctx), bridge.ErrNoSurface)
	assert.ErrorIs(t, h.sess.Hide(ctx), bridge.ErrNoSurface)

	ran := false
	require.NoError(t, h.sess.WithScreenshotHidden(ctx, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestWithScreenshotHidden_NotInitialized(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	ran := false
	require.NoError(t, h.sess.WithScreenshotHidden(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Empty(t, h.surface.CaptureLog)
	assert.Empty(t, h.surface.PostsNamed(schemas.MessageCaptureMode))
}

func TestWithScreenshotHidden_RestoresAfterError(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	require.NoError(t, h.sess.Show(ctx))

	var hiddenAtFrames bool
	h.surface.OnAwaitFrames = func() { hiddenAtFrames = h.surface.HiddenForCapture() }

	taskErr := errors.New("capture failed")
	err := h.sess.WithScreenshotHidden(ctx, func(context.Context) error { return taskErr })
	assert.ErrorIs(t, err, taskErr)

	assert.True(t, hiddenAtFrames, "hidden presentation is applied before frames are awaited")
	assert.Equal(t, []bool{true, false}, h.surface.CaptureLog)
	assert.Equal(t, []int{2}, h.surface.FramesAwait)
	assert.False(t, h.surface.HiddenForCapture())
	assert.False(t, h.sess.Capturing())
}

func TestWithScreenshotHidden_RestoresAfterPanic(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	require.NoError(t, h.sess.Show(ctx))

	assert.Panics(t, func() {
		_ = h.sess.WithScreenshotHidden(ctx, func(context.Context) error { panic("task blew up") })
	})
	assert.Equal(t, []bool{true, false}, h.surface.CaptureLog)
	assert.False(t, h.sess.Capturing())

	capture := h.surface.PostsNamed(schemas.MessageCaptureMode)
	require.Len(t, capture, 2)
	assert.True(t, *capture[0].Enabled)
	assert.False(t, *capture[1].Enabled)
}

func TestWithScreenshotHidden_DoesNotNest(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	require.NoError(t, h.sess.Show(ctx))

	innerRan := false
	require.NoError(t, h.sess.WithScreenshotHidden(ctx, func(ctx context.Context) error {
		return h.sess.WithScreenshotHidden(ctx, func(context.Context) error {
			innerRan = true
			return nil
		})
	}))
	assert.True(t, innerRan)
	assert.Equal(t, []bool{true, false}, h.surface.CaptureLog)
}

func TestPublishSnapshot_OnlyWhileShowing(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	h.agent.On("SendAgentRequest", mock.Anything, mock.Anything).
		Return(&schemas.AgentResponse{Result: &schemas.DecisionResult{Thought: "x"}}, nil)

	require.NoError(t, h.sess.Show(ctx))
	require.NoError(t, h.sess.Hide(ctx))
	before := len(h.surface.PostsNamed(schemas.MessageSnapshot))

	h.sess.PublishSnapshot(ctx, h.sess.Snapshot())
	assert.Len(t, h.surface.PostsNamed(schemas.MessageSnapshot), before)

	require.NoError(t, h.sess.Show(ctx))
	h.sess.PublishSnapshot(ctx, h.sess.Snapshot())
	assert.Len(t, h.surface.PostsNamed(schemas.MessageSnapshot), before+2)
}

func TestServe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, harnessConfig{})
	h.agent.On("SendAgentRequest", mock.Anything, mock.MatchedBy(func(req schemas.AgentRequest) bool {
		return req.Prompt == "press j"
	})).Return(&schemas.AgentResponse{
		RawResponse: "ok",
		Result:      &schemas.DecisionResult{Action: []byte(`"j"`)},
	}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- h.sess.Serve(ctx) }()

	// Messages posted before Serve subscribes would be dropped.
	require.Eventually(t, func() bool {
		return h.bus.Subscribers(schemas.MessageChatSend) == 1
	}, time.Second, 5*time.Millisecond)
	post := func(msg schemas.OverlayMessage) {
		require.NoError(t, h.bus.Post(context.Background(), msg))
	}

	post(schemas.OverlayMessage{Name: schemas.MessageChatSend, Message: "press j", SourceFrameID: "frame-7"})
	require.Eventually(t, func() bool {
		return len(h.bubbler.Keys()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"j"}, h.bubbler.Keys())

	require.Eventually(t, func() bool {
		return h.sess.Snapshot().Status == schemas.StatusIdle && len(h.sess.Snapshot().ChatMessages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snapshotsBefore := len(h.surface.PostsNamed(schemas.MessageSnapshot))
	post(schemas.OverlayMessage{Name: schemas.MessageRequestSnapshot})
	require.Eventually(t, func() bool {
		return len(h.surface.PostsNamed(schemas.MessageSnapshot)) > snapshotsBefore
	}, time.Second, 5*time.Millisecond)

	post(schemas.OverlayMessage{Name: schemas.MessageRequestHide})
	require.Eventually(t, func() bool { return !h.surface.Showing() }, time.Second, 5*time.Millisecond)
	assert.False(t, h.sess.InMode())

	require.NoError(t, h.sess.Show(context.Background()))
	post(schemas.OverlayMessage{Name: schemas.MessageModeEscape})
	require.Eventually(t, func() bool { return !h.sess.InMode() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	h.agent.AssertExpectations(t)
}

func TestServe_RequiresBus(t *testing.T) {
	logger := zaptest.NewLogger(t)
	sess, err := bridge.NewSession(logger, bridge.Deps{
		Settings:    mocks.NewMapSettings(readySettings()),
		Agent:       new(mocks.MockRemoteAgent),
		Interpreter: action.NewInterpreter(logger, &mocks.RecordingBubbler{}, nil),
	})
	require.NoError(t, err)
	assert.Error(t, sess.Serve(context.Background()))
}
