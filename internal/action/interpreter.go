// Package action applies model-decided actions to the live page.
package action

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/keyseq"
)

const (
	keysNotePrefix = "Auto-executed Vimium keys: "
	typedNote      = "Auto-typed text into the active input."
)

// Target identifies an editable element found by an Editor.
type Target struct {
	// Ref is an opaque handle understood by the Editor that produced it.
	Ref             string
	ContentEditable bool
}

// Editor finds editable elements and writes text into them.
type Editor interface {
	// ResolveEditable looks up selector and reports whether it matched an
	// editable element.
	ResolveEditable(ctx context.Context, selector string) (Target, bool, error)
	// FocusedEditable reports the focused element if it is editable.
	FocusedEditable(ctx context.Context) (Target, bool, error)
	// SetText focuses target, replaces its content and fires bubbling
	// input and change events.
	SetText(ctx context.Context, target Target, text string) error
}

// Interpreter turns action tokens into synthesized input.
type Interpreter struct {
	logger  *zap.Logger
	bubbler keyseq.Bubbler
	editor  Editor
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(logger *zap.Logger, bubbler keyseq.Bubbler, editor Editor) *Interpreter {
	return &Interpreter{
		logger:  logger.Named("action"),
		bubbler: bubbler,
		editor:  editor,
	}
}

// Apply executes a single token. It returns a human readable note and true
// when something was applied. Failures are logged and reported as false;
// Apply never panics.
func (i *Interpreter) Apply(ctx context.Context, tok Token) (note string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Recovered from panic while applying action.",
				zap.Stringer("kind", tok.Kind), zap.Any("panic", r))
			note, ok = "", false
		}
	}()

	switch tok.Kind {
	case KindSequence:
		return i.dispatch(ctx, tok.Keys)
	case KindKeyPress:
		seq := keyseq.NormalizeSpecialKey(tok.Keys)
		if seq == "" {
			return "", false
		}
		return i.dispatch(ctx, seq)
	case KindTypeText:
		return i.typeText(ctx, tok)
	default:
		return "", false
	}
}

func (i *Interpreter) dispatch(ctx context.Context, seq string) (string, bool) {
	if i.bubbler == nil {
		return "", false
	}
	applied, err := keyseq.Dispatch(ctx, i.bubbler, seq)
	if err != nil {
		i.logger.Debug("Key sequence not applied.", zap.String("sequence", seq), zap.Error(err))
		return "", false
	}
	return keysNotePrefix + applied, true
}

func (i *Interpreter) typeText(ctx context.Context, tok Token) (string, bool) {
	if strings.TrimSpace(tok.Text) == "" || i.editor == nil {
		return "", false
	}

	target, found, err := i.findTarget(ctx, tok.Selector)
	if err != nil {
		i.logger.Debug("Could not resolve text target.", zap.String("selector", tok.Selector), zap.Error(err))
		return "", false
	}
	if !found {
		return "", false
	}
	if err := i.editor.SetText(ctx, target, tok.Text); err != nil {
		i.logger.Debug("Could not write text.", zap.Error(err))
		return "", false
	}
	return typedNote, true
}

// findTarget prefers the selector match and falls back to the focused element.
func (i *Interpreter) findTarget(ctx context.Context, selector string) (Target, bool, error) {
	if selector != "" {
		t, ok, err := i.editor.ResolveEditable(ctx, selector)
		if err != nil {
			i.logger.Debug("Selector lookup failed, trying focused element.", zap.String("selector", selector), zap.Error(err))
		} else if ok {
			return t, true, nil
		}
	}
	t, ok, err := i.editor.FocusedEditable(ctx)
	if err != nil {
		return Target{}, false, fmt.Errorf("focused element: %w", err)
	}
	return t, ok, nil
}

// AutoExecute applies the action and nextAction of result independently.
// When at least one produced a note, the notes are appended (newline
// separated) to currentObservation, or to the result's observation when
// currentObservation is empty, and the new observation is returned with true.
func (i *Interpreter) AutoExecute(ctx context.Context, result *schemas.DecisionResult, currentObservation string) (string, bool) {
	if result == nil {
		return "", false
	}

	var notes []string
	if note, ok := i.Apply(ctx, ParseToken(result.Action)); ok {
		notes = append(notes, note)
	}
	if note, ok := i.Apply(ctx, ParseToken(result.NextAction)); ok {
		notes = append(notes, note)
	}
	if len(notes) == 0 {
		return "", false
	}

	previous := currentObservation
	if previous == "" {
		previous = result.Observation
	}
	joined := strings.Join(notes, "\n")
	if previous == "" {
		return joined, true
	}
	return previous + "\n" + joined, true
}
