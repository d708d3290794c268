package bridge

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/settings"
	"github.com/xkilldash9x/keybridge/internal/snapshot"
)

// Observations reported by the precondition checks and failed rounds.
const (
	MsgDisabled           = "LLM is disabled. Enable it in Vimium options to continue."
	MsgMissingKeyChat     = "LLM API key is missing. Paste your API key (no spaces) into the chat box."
	MsgMissingKeyAnalysis = "LLM API key is missing. Paste your API key in the chat box to continue."
	MsgKeySaved           = "API key saved. Send your task again to continue."
	MsgKeySavedChat       = "✅ API key saved. Send your task again to continue."
	MsgRequestFailed      = "LLM request failed."

	defaultAnalysisPrompt = "Look at this page and decide the next keyboard action."
)

// RunChat runs one round for a message typed by the user. Round outcomes,
// failures included, land in the snapshot; the returned error is non-nil
// only when ctx ends before the round could start.
func (s *Session) RunChat(ctx context.Context, message string) error {
	return s.runChat(ctx, message, schemas.ShowOptions{})
}

func (s *Session) runChat(ctx context.Context, message string, show schemas.ShowOptions) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.rounds.Release(1)

	// The round outlives a caller that goes away mid-call so the snapshot
	// never stays busy.
	finishCtx := context.WithoutCancel(ctx)

	if !settings.Bool(s.settings, schemas.SettingLLMEnabled) {
		s.showQuietly(ctx, show)
		s.fail(finishCtx, MsgDisabled, snapshot.Patch{}, false)
		return nil
	}

	if strings.TrimSpace(settings.String(s.settings, schemas.SettingLLMAPIKey)) == "" {
		s.showQuietly(ctx, show)
		if strings.IndexFunc(message, unicode.IsSpace) >= 0 {
			s.fail(finishCtx, MsgMissingKeyChat, snapshot.Patch{}, false)
			return nil
		}
		s.saveKey(finishCtx, message)
		return nil
	}

	s.showQuietly(ctx, show)
	s.snapshots.Merge(finishCtx, snapshot.Patch{
		Status:     snapshot.Ptr(schemas.StatusBusy),
		AppendChat: []schemas.ChatMessage{{Role: schemas.RoleUser, Content: message}},
	})

	resp, err := s.send(ctx, schemas.AgentRequest{
		Prompt:            message,
		IncludeScreenshot: settings.Bool(s.settings, schemas.SettingLLMIncludeScreenshot),
		Tier:              schemas.TierPowerful,
	})
	s.complete(finishCtx, resp, err, true)

	if err := s.Archive(finishCtx); err != nil {
		s.logger.Warn("Could not archive transcript.", zap.Error(err))
	}
	return nil
}

// RunAnalysis runs one round with the configured analysis prompt. It never
// touches the transcript and clears the previous decision first.
func (s *Session) RunAnalysis(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.rounds.Release(1)

	finishCtx := context.WithoutCancel(ctx)

	if !settings.Bool(s.settings, schemas.SettingLLMEnabled) {
		s.showQuietly(ctx, schemas.ShowOptions{})
		s.fail(finishCtx, MsgDisabled, snapshot.Patch{}, false)
		return nil
	}
	if strings.TrimSpace(settings.String(s.settings, schemas.SettingLLMAPIKey)) == "" {
		s.showQuietly(ctx, schemas.ShowOptions{})
		s.fail(finishCtx, MsgMissingKeyAnalysis, snapshot.Patch{}, false)
		return nil
	}

	prompt := strings.TrimSpace(settings.String(s.settings, schemas.SettingLLMUserPrompt))
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}

	s.showQuietly(ctx, schemas.ShowOptions{})
	reset := snapshot.ClearDecision()
	reset.Status = snapshot.Ptr(schemas.StatusBusy)
	s.snapshots.Merge(finishCtx, reset)

	resp, err := s.send(ctx, schemas.AgentRequest{
		Prompt:            prompt,
		IncludeScreenshot: settings.Bool(s.settings, schemas.SettingLLMIncludeScreenshot),
		Tier:              schemas.TierFast,
	})
	s.complete(finishCtx, resp, err, false)
	return nil
}

// begin waits for the previous round and for the settings to load.
func (s *Session) begin(ctx context.Context) error {
	if err := s.rounds.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := s.settings.OnLoaded(ctx); err != nil {
		s.rounds.Release(1)
		return err
	}
	return nil
}

func (s *Session) saveKey(ctx context.Context, key string) {
	if err := s.settings.Set(ctx, schemas.SettingLLMAPIKey, key); err != nil {
		s.logger.Error("Failed to persist API key.", zap.Error(err))
		s.fail(ctx, "Could not save the API key: "+err.Error(), snapshot.Patch{}, false)
		return
	}
	s.logger.Info("API key saved from chat.")
	s.snapshots.Merge(ctx, snapshot.Patch{
		Status:      snapshot.Ptr(schemas.StatusIdle),
		Observation: snapshot.Ptr(MsgKeySaved),
		AppendChat:  []schemas.ChatMessage{{Role: schemas.RoleAssistant, Content: MsgKeySavedChat}},
	})
}

// send issues the remote call under the request timeout, inside the capture
// scope when a screenshot is requested.
func (s *Session) send(ctx context.Context, req schemas.AgentRequest) (*schemas.AgentResponse, error) {
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	pc, err := s.pageContext(ctx)
	if err != nil {
		s.logger.Debug("Page context unavailable.", zap.Error(err))
	}
	req.PageContext = pc

	var resp *schemas.AgentResponse
	call := func(ctx context.Context) error {
		var err error
		resp, err = s.agent.SendAgentRequest(ctx, req)
		return err
	}

	s.logger.Debug("Sending agent request.",
		zap.String("tier", string(req.Tier)),
		zap.Bool("screenshot", req.IncludeScreenshot),
		zap.String("url", pc.URL))

	if req.IncludeScreenshot {
		err = s.WithScreenshotHidden(ctx, call)
	} else {
		err = call(ctx)
	}
	return resp, err
}

// complete merges the outcome of a remote call and auto-executes a
// successful decision.
func (s *Session) complete(ctx context.Context, resp *schemas.AgentResponse, err error, chat bool) {
	if err != nil {
		text := MsgRequestFailed
		if msg := err.Error(); msg != "" {
			text = "LLM request failed: " + msg
		}
		s.logger.Warn("Agent request failed.", zap.Error(err))
		s.fail(ctx, text, snapshot.Patch{}, chat)
		return
	}
	if resp == nil {
		s.logger.Warn("Agent returned no response.")
		s.fail(ctx, MsgRequestFailed, snapshot.Patch{}, chat)
		return
	}
	if resp.Error != "" {
		s.logger.Warn("Model service reported an error.", zap.String("error", resp.Error))
		s.fail(ctx, resp.Error, snapshot.Patch{
			RawResponse: snapshot.Ptr(resp.RawResponse),
			Screenshot:  snapshot.Ptr(resp.Screenshot),
		}, chat)
		return
	}

	result := resp.Result
	patch := snapshot.Patch{
		Status:      snapshot.Ptr(schemas.StatusIdle),
		Thought:     snapshot.Ptr(""),
		Action:      snapshot.Ptr(result.ActionText()),
		Observation: snapshot.Ptr(""),
		NextAction:  snapshot.Ptr(result.NextActionText()),
		RawResponse: snapshot.Ptr(resp.RawResponse),
		Screenshot:  snapshot.Ptr(resp.Screenshot),
	}
	if result != nil {
		patch.Thought = snapshot.Ptr(result.Thought)
		patch.Observation = snapshot.Ptr(result.Observation)
	}
	if chat {
		content := resp.RawResponse
		if content == "" {
			content = result.PrettyJSON()
		}
		patch.AppendChat = []schemas.ChatMessage{{Role: schemas.RoleAssistant, Content: content}}
	}
	merged := s.snapshots.Merge(ctx, patch)

	if obs, handled := s.interp.AutoExecute(ctx, result, merged.Observation); handled {
		s.snapshots.Merge(ctx, snapshot.Patch{Observation: &obs})
	}
}

// fail moves the session to the error state with text as the observation,
// merged over base.
func (s *Session) fail(ctx context.Context, text string, base snapshot.Patch, chat bool) {
	base.Status = snapshot.Ptr(schemas.StatusError)
	base.Observation = &text
	if chat {
		base.AppendChat = []schemas.ChatMessage{{Role: schemas.RoleAssistant, Content: text}}
	}
	s.snapshots.Merge(ctx, base)
}
