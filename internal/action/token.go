package action

import (
	"bytes"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cast"
)

// Kind discriminates the action token variants.
type Kind int

const (
	// KindNone is a token that does nothing.
	KindNone Kind = iota
	// KindSequence is key notation given directly as a string.
	KindSequence
	// KindKeyPress is a key or sequence from an action object; bare special
	// key names are normalized before dispatch.
	KindKeyPress
	// KindTypeText writes text into an editable element.
	KindTypeText
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindKeyPress:
		return "keypress"
	case KindTypeText:
		return "type"
	default:
		return "none"
	}
}

// Token is a normalized action decided by the model.
type Token struct {
	Kind Kind
	// Keys is the key notation for KindSequence and KindKeyPress.
	Keys string
	// Text and Selector are set for KindTypeText.
	Text     string
	Selector string
}

// ParseToken normalizes a raw action value. Strings become sequences.
// Objects are classified by a case-insensitive "type": "type" writes text
// (from "text", falling back to "value"), anything else takes the first
// truthy of "key", "keys", "sequence". Every other shape is KindNone.
func ParseToken(raw json.RawMessage) Token {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Token{}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || s == "" {
			return Token{}
		}
		return Token{Kind: KindSequence, Keys: s}
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Token{}
		}
		return fromObject(obj)
	default:
		return Token{}
	}
}

func fromObject(obj map[string]interface{}) Token {
	actionType := strings.ToLower(cast.ToString(obj["type"]))
	if actionType == "type" {
		text, present := obj["text"]
		if !present || text == nil {
			text = obj["value"]
		}
		s, ok := text.(string)
		if !ok {
			return Token{}
		}
		selector, _ := obj["selector"].(string)
		return Token{Kind: KindTypeText, Text: s, Selector: selector}
	}

	// "vim_key", "key", "keypress" and untyped objects share the key lookup.
	for _, field := range []string{"key", "keys", "sequence"} {
		v := obj[field]
		if !truthy(v) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Token{}
		}
		return Token{Kind: KindKeyPress, Keys: s}
	}
	return Token{}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
