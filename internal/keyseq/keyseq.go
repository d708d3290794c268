// Package keyseq converts compact key notation ("gg", "<c-d>", "<esc>") into
// keyboard event descriptors and bubbles them through a handler chain.
package keyseq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// ErrInvalidSequence is returned when a sequence is empty or has an
// unterminated special token.
var ErrInvalidSequence = errors.New("keyseq: invalid key sequence")

// aliases maps the names accepted inside <...> to key values.
var aliases = map[string]string{
	"esc":       "Escape",
	"escape":    "Escape",
	"enter":     "Enter",
	"return":    "Enter",
	"cr":        "Enter",
	"tab":       "Tab",
	"space":     " ",
	"backspace": "Backspace",
	"bs":        "Backspace",
	"delete":    "Delete",
	"del":       "Delete",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"left":      "ArrowLeft",
	"right":     "ArrowRight",
	"pageup":    "PageUp",
	"pagedown":  "PageDown",
	"pgup":      "PageUp",
	"pgdn":      "PageDown",
	"home":      "Home",
	"end":       "End",
}

// canonicalNames is the inverse of aliases used by Format.
var canonicalNames = map[string]string{
	"Escape":     "esc",
	"Enter":      "enter",
	"Tab":        "tab",
	" ":          "space",
	"Backspace":  "backspace",
	"Delete":     "delete",
	"ArrowUp":    "up",
	"ArrowDown":  "down",
	"ArrowLeft":  "left",
	"ArrowRight": "right",
	"PageUp":     "pageup",
	"PageDown":   "pagedown",
	"Home":       "home",
	"End":        "end",
}

var modifierLetters = map[string]schemas.KeyModifier{
	"a": schemas.ModAlt,
	"c": schemas.ModCtrl,
	"m": schemas.ModMeta,
	"s": schemas.ModShift,
}

// StripWhitespace removes every whitespace character from s.
func StripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Parse converts a sequence into descriptors. It reports false when the
// sequence is empty after stripping whitespace or contains a '<' with no
// closing '>'; in that case no descriptors are returned.
func Parse(sequence string) ([]KeyEvent, bool) {
	runes := []rune(StripWhitespace(sequence))
	if len(runes) == 0 {
		return nil, false
	}

	events := make([]KeyEvent, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		if runes[i] != '<' {
			events = append(events, literal(runes[i]))
			continue
		}
		end := indexRune(runes, '>', i+1)
		if end < 0 {
			return nil, false
		}
		events = append(events, special(string(runes[i+1:end])))
		i = end
	}
	return events, true
}

func indexRune(runes []rune, r rune, from int) int {
	for j := from; j < len(runes); j++ {
		if runes[j] == r {
			return j
		}
	}
	return -1
}

func isUpperLetter(r rune) bool {
	return unicode.ToUpper(r) == r && unicode.ToLower(r) != r
}

func literal(r rune) KeyEvent {
	mods := schemas.ModNone
	if isUpperLetter(r) {
		mods = schemas.ModShift
	}
	return NewKeyEvent(string(r), mods)
}

func special(token string) KeyEvent {
	parts := strings.Split(strings.ToLower(token), "-")
	name := parts[len(parts)-1]

	mods := schemas.ModNone
	for _, p := range parts[:len(parts)-1] {
		mods |= modifierLetters[p]
	}

	key := name
	if alias, ok := aliases[name]; ok {
		key = alias
	}
	return NewKeyEvent(key, mods)
}

// Dispatch parses sequence and bubbles every descriptor in order, keydown
// then keyup. It returns the sequence with whitespace removed. Nothing is
// dispatched when the sequence does not parse.
func Dispatch(ctx context.Context, b Bubbler, sequence string) (string, error) {
	events, ok := Parse(sequence)
	if !ok {
		return "", ErrInvalidSequence
	}
	for i, ev := range events {
		if err := b.Bubble(ctx, KeyDown, ev); err != nil {
			return "", fmt.Errorf("keydown %d (%q): %w", i, ev.Key, err)
		}
		if err := b.Bubble(ctx, KeyUp, ev); err != nil {
			return "", fmt.Errorf("keyup %d (%q): %w", i, ev.Key, err)
		}
	}
	return StripWhitespace(sequence), nil
}

// NormalizeSpecialKey wraps a bare special key name in angle brackets so it
// parses as a single key. Values already in <...> form and anything that is
// not a known special name are returned trimmed. Blank input yields "".
func NormalizeSpecialKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return trimmed
	}
	lower := strings.ToLower(trimmed)
	if _, ok := aliases[lower]; ok {
		return "<" + lower + ">"
	}
	return trimmed
}

// Format renders descriptors back into notation. Parse(Format(evs)) yields
// evs for any evs produced by Parse.
func Format(events []KeyEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString(formatOne(ev))
	}
	return sb.String()
}

func formatOne(ev KeyEvent) string {
	runes := []rune(ev.Key)
	if len(runes) == 1 && ev.Key != "<" && !unicode.IsSpace(runes[0]) &&
		!ev.AltKey && !ev.CtrlKey && !ev.MetaKey && ev.ShiftKey == isUpperLetter(runes[0]) {
		return ev.Key
	}

	var sb strings.Builder
	sb.WriteByte('<')
	if ev.AltKey {
		sb.WriteString("a-")
	}
	if ev.CtrlKey {
		sb.WriteString("c-")
	}
	if ev.MetaKey {
		sb.WriteString("m-")
	}
	if ev.ShiftKey {
		sb.WriteString("s-")
	}
	if name, ok := canonicalNames[ev.Key]; ok {
		sb.WriteString(name)
	} else {
		sb.WriteString(strings.ToLower(ev.Key))
	}
	sb.WriteByte('>')
	return sb.String()
}
