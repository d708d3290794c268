package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/bridge"
)

func newREPL(ts *testSession) (*chatREPL, *bytes.Buffer) {
	out := new(bytes.Buffer)
	return &chatREPL{sess: ts.sess, out: out, render: plainText}, out
}

func TestChatREPL_RoundTrip(t *testing.T) {
	ts := newTestSession(t, nil, false)
	ts.agent.On("SendAgentRequest", mock.Anything, mock.MatchedBy(func(req schemas.AgentRequest) bool {
		return req.Prompt == "scroll down"
	})).Return(&schemas.AgentResponse{
		RawResponse: "Scrolling with j.",
		Result: &schemas.DecisionResult{
			Thought:    "The list continues below.",
			Action:     []byte(`"j"`),
			NextAction: []byte(`"<esc>"`),
		},
	}, nil).Once()

	repl, out := newREPL(ts)
	lines := &scriptedLines{lines: []string{"", "scroll down", "/quit", "never read"}}
	require.NoError(t, repl.run(context.Background(), lines))

	assert.Equal(t, "Scrolling with j.\nAction: j\nNext: <esc>\n", out.String())
	assert.Equal(t, []string{"j", "Escape"}, ts.bubbler.Keys())
	assert.Len(t, ts.sess.Snapshot().ChatMessages, 2)
	ts.agent.AssertExpectations(t)
}

func TestChatREPL_FailedRoundPrintsAssistantEntry(t *testing.T) {
	ts := newTestSession(t, nil, false)
	ts.agent.On("SendAgentRequest", mock.Anything, mock.Anything).
		Return(&schemas.AgentResponse{Error: "quota exceeded"}, nil).Once()

	repl, out := newREPL(ts)
	quit, err := repl.handle(context.Background(), "open the menu")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, "quota exceeded\n", out.String())
}

func TestChatREPL_SavesKey(t *testing.T) {
	ts := newTestSession(t, map[string]interface{}{schemas.SettingLLMEnabled: true}, false)

	repl, out := newREPL(ts)
	_, err := repl.handle(context.Background(), "sk-abc123")
	require.NoError(t, err)
	assert.Equal(t, bridge.MsgKeySavedChat+"\n", out.String())
	ts.agent.AssertNotCalled(t, "SendAgentRequest", mock.Anything, mock.Anything)
}

func TestChatREPL_Analyze(t *testing.T) {
	ts := newTestSession(t, nil, false)
	ts.agent.On("SendAgentRequest", mock.Anything, mock.Anything).Return(&schemas.AgentResponse{
		Result: &schemas.DecisionResult{
			Thought:     "Top of the page.",
			Observation: "Nothing selected.",
			Action:      []byte(`"G"`),
		},
	}, nil).Once()

	repl, out := newREPL(ts)
	_, err := repl.handle(context.Background(), "/analyze")
	require.NoError(t, err)
	assert.Equal(t, "Top of the page.\nAction: G\nObservation: Nothing selected.\nAuto-executed Vimium keys: G\n", out.String())
}

func TestChatREPL_Analyze_Error(t *testing.T) {
	ts := newTestSession(t, map[string]interface{}{schemas.SettingLLMEnabled: false}, false)

	repl, out := newREPL(ts)
	_, err := repl.handle(context.Background(), "/analyze")
	require.NoError(t, err)
	assert.Equal(t, bridge.MsgDisabled+"\n", out.String())
}

func TestChatREPL_SlashCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("help", func(t *testing.T) {
		repl, out := newREPL(newTestSession(t, nil, false))
		_, err := repl.handle(ctx, "/help")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "/snapshot")
	})

	t.Run("snapshot", func(t *testing.T) {
		repl, out := newREPL(newTestSession(t, nil, false))
		_, err := repl.handle(ctx, "/snapshot")
		require.NoError(t, err)
		assert.Contains(t, out.String(), `"status": "idle"`)
		assert.Contains(t, out.String(), `"chatMessages": []`)
	})

	t.Run("hide without overlay", func(t *testing.T) {
		repl, out := newREPL(newTestSession(t, nil, false))
		_, err := repl.handle(ctx, "/hide")
		require.NoError(t, err)
		assert.Equal(t, "No overlay in this session.\n", out.String())
	})

	t.Run("hide with overlay", func(t *testing.T) {
		ts := newTestSession(t, nil, true)
		require.NoError(t, ts.sess.Show(ctx))
		repl, out := newREPL(ts)
		_, err := repl.handle(ctx, "/hide")
		require.NoError(t, err)
		assert.Empty(t, out.String())
		assert.False(t, ts.surface.Showing())
	})

	t.Run("reset", func(t *testing.T) {
		ts := newTestSession(t, nil, false)
		ts.agent.On("SendAgentRequest", mock.Anything, mock.Anything).
			Return(&schemas.AgentResponse{RawResponse: "ok", Result: &schemas.DecisionResult{}}, nil).Once()
		require.NoError(t, ts.sess.RunChat(ctx, "hello"))
		before := ts.sess.ID()

		repl, out := newREPL(ts)
		_, err := repl.handle(ctx, "/reset")
		require.NoError(t, err)
		assert.Equal(t, "Transcript cleared.\n", out.String())
		assert.Empty(t, ts.sess.Snapshot().ChatMessages)
		assert.NotEqual(t, before, ts.sess.ID())
	})

	t.Run("unknown", func(t *testing.T) {
		repl, out := newREPL(newTestSession(t, nil, false))
		quit, err := repl.handle(ctx, "/frobnicate")
		require.NoError(t, err)
		assert.False(t, quit)
		assert.Equal(t, "Unknown command /frobnicate. Type /help for commands.\n", out.String())
	})

	t.Run("quit", func(t *testing.T) {
		repl, _ := newREPL(newTestSession(t, nil, false))
		for _, line := range []string{"/quit", " /exit "} {
			quit, err := repl.handle(ctx, line)
			require.NoError(t, err)
			assert.True(t, quit, line)
		}
	})
}

func TestChatREPL_InputErrors(t *testing.T) {
	repl, _ := newREPL(newTestSession(t, nil, false))

	t.Run("interrupt keeps reading", func(t *testing.T) {
		lines := &scriptedLines{lines: []string{"", "/quit"}, errs: map[int]error{0: readline.ErrInterrupt}}
		require.NoError(t, repl.run(context.Background(), lines))
		assert.Equal(t, 2, lines.pos)
	})

	t.Run("read failure", func(t *testing.T) {
		lines := &scriptedLines{errs: map[int]error{0: errors.New("tty gone")}}
		assert.ErrorContains(t, repl.run(context.Background(), lines), "reading input: tty gone")
	})

	t.Run("cancelled context closes input", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		lines := &scriptedLines{lines: []string{"/help", "/help"}}
		require.NoError(t, repl.run(ctx, lines))
	})
}

func TestAsMarkdown(t *testing.T) {
	assert.Equal(t, "```json\n{\"thought\": \"x\"}\n```", asMarkdown("  {\"thought\": \"x\"}\n"))
	assert.Equal(t, "plain *text*", asMarkdown("plain *text*"))
}

func TestMarkdownRenderer(t *testing.T) {
	render := newMarkdownRenderer(zaptest.NewLogger(t))
	assert.Contains(t, render("hello"), "hello")
	assert.Equal(t, "x\n", plainText("x"))
	assert.Equal(t, "x\n", plainText("x\n"))
}

func TestChatCommand_FactoryError(t *testing.T) {
	factory := &fakeFactory{err: errors.New("no chrome")}
	_, err := executeCommand(t, context.Background(), factory, "chat", "example.com", "--no-overlay")
	assert.ErrorContains(t, err, "no chrome")
	_, opts := factory.captured()
	assert.True(t, opts.NoOverlay)
	assert.Equal(t, "https://example.com", opts.URL)
}
