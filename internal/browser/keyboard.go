package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/input"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/keyseq"
)

// Keyboard delivers key events to the page as native input.
type Keyboard struct {
	page *Page
}

var _ keyseq.Bubbler = (*Keyboard)(nil)

// NewKeyboard creates a Keyboard for page.
func NewKeyboard(page *Page) *Keyboard {
	return &Keyboard{page: page}
}

// Bubble dispatches ev through Input.dispatchKeyEvent.
func (k *Keyboard) Bubble(ctx context.Context, eventType keyseq.EventType, ev keyseq.KeyEvent) error {
	params := keyEventParams(eventType, ev)
	if err := k.page.RunActions(ctx, params); err != nil {
		return fmt.Errorf("dispatching %s %q: %w", eventType, ev.Key, err)
	}
	return nil
}

// keyEventParams maps a descriptor to CDP parameters. Keydowns that produce
// a character use keyDown with text; the rest use rawKeyDown.
func keyEventParams(eventType keyseq.EventType, ev keyseq.KeyEvent) *input.DispatchKeyEventParams {
	var t input.KeyType
	text := ""
	switch eventType {
	case keyseq.KeyUp:
		t = input.KeyUp
	default:
		text = ev.Text()
		if text != "" {
			t = input.KeyDown
		} else {
			t = input.KeyRawDown
		}
	}

	p := input.DispatchKeyEvent(t).
		WithKey(ev.Key).
		WithModifiers(cdpModifiers(ev.Modifiers())).
		WithWindowsVirtualKeyCode(int64(ev.KeyCode)).
		WithNativeVirtualKeyCode(int64(ev.KeyCode))
	if ev.Code != "" {
		p = p.WithCode(ev.Code)
	}
	if text != "" {
		p = p.WithText(text).WithUnmodifiedText(text)
	}
	return p
}

func cdpModifiers(m schemas.KeyModifier) input.Modifier {
	var out input.Modifier
	if m.Has(schemas.ModAlt) {
		out |= input.ModifierAlt
	}
	if m.Has(schemas.ModCtrl) {
		out |= input.ModifierCtrl
	}
	if m.Has(schemas.ModMeta) {
		out |= input.ModifierMeta
	}
	if m.Has(schemas.ModShift) {
		out |= input.ModifierShift
	}
	return out
}
