package keyseq

import (
	"context"
	"strings"
	"unicode"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// EventType is the phase a key event is bubbled in.
type EventType string

const (
	KeyDown EventType = "keydown"
	KeyUp   EventType = "keyup"
)

// KeyEvent mirrors the fields a page-side keyboard handler reads from a
// native keyboard event. Synthesized events are always marked trusted.
type KeyEvent struct {
	Key       string `json:"key"`
	Code      string `json:"code"`
	KeyCode   int    `json:"keyCode"`
	Which     int    `json:"which"`
	AltKey    bool   `json:"altKey"`
	CtrlKey   bool   `json:"ctrlKey"`
	MetaKey   bool   `json:"metaKey"`
	ShiftKey  bool   `json:"shiftKey"`
	IsTrusted bool   `json:"isTrusted"`
}

// PreventDefault is a no-op; handlers may call it on synthesized events.
func (KeyEvent) PreventDefault() {}

// StopImmediatePropagation is a no-op; handlers may call it on synthesized events.
func (KeyEvent) StopImmediatePropagation() {}

// Modifiers returns the CDP modifier bitmask for the event.
func (e KeyEvent) Modifiers() schemas.KeyModifier {
	var m schemas.KeyModifier
	if e.AltKey {
		m |= schemas.ModAlt
	}
	if e.CtrlKey {
		m |= schemas.ModCtrl
	}
	if e.MetaKey {
		m |= schemas.ModMeta
	}
	if e.ShiftKey {
		m |= schemas.ModShift
	}
	return m
}

// Text is the character the event would insert, or "" for non-printing keys
// and chorded keys.
func (e KeyEvent) Text() string {
	if e.CtrlKey || e.MetaKey || e.AltKey {
		return ""
	}
	if len([]rune(e.Key)) == 1 {
		return e.Key
	}
	return ""
}

// Bubbler routes a key event through the page's keyboard handler chain.
type Bubbler interface {
	Bubble(ctx context.Context, eventType EventType, ev KeyEvent) error
}

// BubblerFunc adapts a function to the Bubbler interface.
type BubblerFunc func(ctx context.Context, eventType EventType, ev KeyEvent) error

func (f BubblerFunc) Bubble(ctx context.Context, eventType EventType, ev KeyEvent) error {
	return f(ctx, eventType, ev)
}

var keyCodes = map[string]int{
	"Escape":     27,
	"Enter":      13,
	"Tab":        9,
	"Backspace":  8,
	"Delete":     46,
	" ":          32,
	"ArrowUp":    38,
	"ArrowDown":  40,
	"ArrowLeft":  37,
	"ArrowRight": 39,
	"PageUp":     33,
	"PageDown":   34,
	"Home":       36,
	"End":        35,
}

var namedCodes = map[string]string{
	"Escape":     "Escape",
	"Enter":      "Enter",
	"Tab":        "Tab",
	"Backspace":  "Backspace",
	"Delete":     "Delete",
	" ":          "Space",
	"ArrowUp":    "ArrowUp",
	"ArrowDown":  "ArrowDown",
	"ArrowLeft":  "ArrowLeft",
	"ArrowRight": "ArrowRight",
	"PageUp":     "PageUp",
	"PageDown":   "PageDown",
	"Home":       "Home",
	"End":        "End",
}

// KeyCodeFor returns the legacy numeric key code for a key value.
// Named keys use the fixed table; single characters use the code point of
// their upper-case form; anything else is 0.
func KeyCodeFor(key string) int {
	if code, ok := keyCodes[key]; ok {
		return code
	}
	r := []rune(key)
	if len(r) == 1 {
		return int(unicode.ToUpper(r[0]))
	}
	return 0
}

// physicalCode returns the KeyboardEvent.code a US layout reports for key.
func physicalCode(key string) string {
	if c, ok := namedCodes[key]; ok {
		return c
	}
	r := []rune(key)
	if len(r) != 1 {
		return ""
	}
	switch {
	case r[0] >= 'a' && r[0] <= 'z', r[0] >= 'A' && r[0] <= 'Z':
		return "Key" + strings.ToUpper(key)
	case r[0] >= '0' && r[0] <= '9':
		return "Digit" + key
	}
	return ""
}

// NewKeyEvent builds a trusted descriptor for key with the given modifiers.
func NewKeyEvent(key string, mods schemas.KeyModifier) KeyEvent {
	code := KeyCodeFor(key)
	return KeyEvent{
		Key:       key,
		Code:      physicalCode(key),
		KeyCode:   code,
		Which:     code,
		AltKey:    mods.Has(schemas.ModAlt),
		CtrlKey:   mods.Has(schemas.ModCtrl),
		MetaKey:   mods.Has(schemas.ModMeta),
		ShiftKey:  mods.Has(schemas.ModShift),
		IsTrusted: true,
	}
}
