package keyseq_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/keyseq"
)

type recorded struct {
	Type keyseq.EventType
	Key  string
}

// recordingBubbler captures every bubbled event in order.
type recordingBubbler struct {
	events []recorded
	full   []keyseq.KeyEvent
	failAt int
}

func (r *recordingBubbler) Bubble(_ context.Context, t keyseq.EventType, ev keyseq.KeyEvent) error {
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return errors.New("handler failed")
	}
	r.events = append(r.events, recorded{Type: t, Key: ev.Key})
	r.full = append(r.full, ev)
	return nil
}

func TestParse_Literals(t *testing.T) {
	events, ok := keyseq.Parse("gG")
	require.True(t, ok)
	require.Len(t, events, 2)

	assert.Equal(t, "g", events[0].Key)
	assert.False(t, events[0].ShiftKey)
	assert.Equal(t, 71, events[0].KeyCode)
	assert.Equal(t, 71, events[0].Which)
	assert.True(t, events[0].IsTrusted)
	assert.Equal(t, "KeyG", events[0].Code)

	assert.Equal(t, "G", events[1].Key)
	assert.True(t, events[1].ShiftKey, "upper-case letter implies shift")
	assert.Equal(t, 71, events[1].KeyCode)
}

func TestParse_ShiftOnlyForLetters(t *testing.T) {
	events, ok := keyseq.Parse("1!$")
	require.True(t, ok)
	for _, ev := range events {
		assert.False(t, ev.ShiftKey, "key %q", ev.Key)
	}
	assert.Equal(t, 49, events[0].KeyCode)
	assert.Equal(t, "Digit1", events[0].Code)
	assert.Equal(t, int('!'), events[1].KeyCode)
	assert.Empty(t, events[1].Code)
}

func TestParse_SpecialTokens(t *testing.T) {
	tests := []struct {
		in      string
		key     string
		keyCode int
		mods    schemas.KeyModifier
	}{
		{"<esc>", "Escape", 27, schemas.ModNone},
		{"<Escape>", "Escape", 27, schemas.ModNone},
		{"<enter>", "Enter", 13, schemas.ModNone},
		{"<return>", "Enter", 13, schemas.ModNone},
		{"<cr>", "Enter", 13, schemas.ModNone},
		{"<tab>", "Tab", 9, schemas.ModNone},
		{"<space>", " ", 32, schemas.ModNone},
		{"<backspace>", "Backspace", 8, schemas.ModNone},
		{"<bs>", "Backspace", 8, schemas.ModNone},
		{"<del>", "Delete", 46, schemas.ModNone},
		{"<up>", "ArrowUp", 38, schemas.ModNone},
		{"<down>", "ArrowDown", 40, schemas.ModNone},
		{"<left>", "ArrowLeft", 37, schemas.ModNone},
		{"<right>", "ArrowRight", 39, schemas.ModNone},
		{"<pgup>", "PageUp", 33, schemas.ModNone},
		{"<pgdn>", "PageDown", 34, schemas.ModNone},
		{"<home>", "Home", 36, schemas.ModNone},
		{"<end>", "End", 35, schemas.ModNone},
		{"<c-d>", "d", 68, schemas.ModCtrl},
		{"<C-D>", "d", 68, schemas.ModCtrl},
		{"<a-s-x>", "x", 88, schemas.ModAlt | schemas.ModShift},
		{"<m-c-enter>", "Enter", 13, schemas.ModMeta | schemas.ModCtrl},
		{"<f5>", "f5", 0, schemas.ModNone},
		{"<z-q>", "q", 81, schemas.ModNone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			events, ok := keyseq.Parse(tt.in)
			require.True(t, ok)
			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, tt.key, ev.Key)
			assert.Equal(t, tt.keyCode, ev.KeyCode)
			assert.Equal(t, ev.KeyCode, ev.Which)
			assert.Equal(t, tt.mods, ev.Modifiers())
		})
	}
}

func TestParse_StripsWhitespace(t *testing.T) {
	a, ok := keyseq.Parse(" g \t g\n")
	require.True(t, ok)
	b, ok := keyseq.Parse("gg")
	require.True(t, ok)
	if diff := cmp.Diff(b, a); diff != "" {
		t.Errorf("whitespace changed parse (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t", "<c-d", "gg<esc", "<"} {
		events, ok := keyseq.Parse(in)
		assert.False(t, ok, "input %q", in)
		assert.Nil(t, events, "input %q", in)
	}
}

func TestParse_Mixed(t *testing.T) {
	events, ok := keyseq.Parse("<esc>gg<c-d>")
	require.True(t, ok)
	keys := make([]string, len(events))
	for i, ev := range events {
		keys[i] = ev.Key
	}
	assert.Equal(t, []string{"Escape", "g", "g", "d"}, keys)
	assert.True(t, events[3].CtrlKey)
}

func TestKeyCodeFor(t *testing.T) {
	assert.Equal(t, 27, keyseq.KeyCodeFor("Escape"))
	assert.Equal(t, 32, keyseq.KeyCodeFor(" "))
	assert.Equal(t, 65, keyseq.KeyCodeFor("a"))
	assert.Equal(t, 65, keyseq.KeyCodeFor("A"))
	assert.Equal(t, 0, keyseq.KeyCodeFor("F12"))
	assert.Equal(t, 0, keyseq.KeyCodeFor(""))
}

func TestDispatch_OrderAndReturn(t *testing.T) {
	b := &recordingBubbler{}
	applied, err := keyseq.Dispatch(context.Background(), b, " g <c-d> ")
	require.NoError(t, err)
	assert.Equal(t, "g<c-d>", applied)

	want := []recorded{
		{keyseq.KeyDown, "g"}, {keyseq.KeyUp, "g"},
		{keyseq.KeyDown, "d"}, {keyseq.KeyUp, "d"},
	}
	if diff := cmp.Diff(want, b.events); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, b.full[2].CtrlKey)
}

func TestDispatch_InvalidDispatchesNothing(t *testing.T) {
	b := &recordingBubbler{}
	applied, err := keyseq.Dispatch(context.Background(), b, "gg<esc")
	assert.ErrorIs(t, err, keyseq.ErrInvalidSequence)
	assert.Empty(t, applied)
	assert.Empty(t, b.events)
}

func TestDispatch_BubbleError(t *testing.T) {
	b := &recordingBubbler{failAt: 2}
	_, err := keyseq.Dispatch(context.Background(), b, "gg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyup 0")
	assert.Len(t, b.events, 1)
}

func TestBubblerFunc(t *testing.T) {
	var got []keyseq.EventType
	f := keyseq.BubblerFunc(func(_ context.Context, et keyseq.EventType, _ keyseq.KeyEvent) error {
		got = append(got, et)
		return nil
	})
	_, err := keyseq.Dispatch(context.Background(), f, "<esc>")
	require.NoError(t, err)
	assert.Equal(t, []keyseq.EventType{keyseq.KeyDown, keyseq.KeyUp}, got)
}

func TestNormalizeSpecialKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"esc", "<esc>"},
		{"  ENTER ", "<enter>"},
		{"pgdn", "<pgdn>"},
		{"<c-d>", "<c-d>"},
		{"j", "j"},
		{" gg ", "gg"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyseq.NormalizeSpecialKey(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeSpecialKey_ProducesSingleEvent(t *testing.T) {
	for _, name := range []string{"escape", "esc", "enter", "return", "tab", "space", "backspace",
		"delete", "del", "up", "down", "left", "right", "pageup", "pagedown", "pgup", "pgdn", "home", "end"} {
		events, ok := keyseq.Parse(keyseq.NormalizeSpecialKey(name))
		require.True(t, ok, name)
		assert.Len(t, events, 1, name)
	}
}

func TestEvent_Text(t *testing.T) {
	events, _ := keyseq.Parse("a<c-a><esc><space>")
	assert.Equal(t, "a", events[0].Text())
	assert.Empty(t, events[1].Text())
	assert.Empty(t, events[2].Text())
	assert.Equal(t, " ", events[3].Text())
}

func TestFormat_RoundTrip(t *testing.T) {
	for _, in := range []string{"gg", "G", "<esc>", "<c-d>", "<s-a>", "<a-c-m-s-enter>", "<f5>", "<<>", "x>y", "<space>", "<>"} {
		events, ok := keyseq.Parse(in)
		require.True(t, ok, in)
		again, ok := keyseq.Parse(keyseq.Format(events))
		require.True(t, ok, in)
		if diff := cmp.Diff(events, again); diff != "" {
			t.Errorf("round trip of %q changed events (-want +got):\n%s", in, diff)
		}
	}
	events, _ := keyseq.Parse("<ESC>gg<C-d>")
	assert.Equal(t, "<esc>gg<c-d>", keyseq.Format(events))
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{"gg", "<esc>", "<c-d>j", "<", "a<b>c", "  "} {
		f.Add([]byte(seed))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		seq, err := consumer.GetString()
		if err != nil {
			seq = string(data)
		}

		events, ok := keyseq.Parse(seq)
		if !ok {
			require.Nil(t, events)
			b := &recordingBubbler{}
			_, err := keyseq.Dispatch(context.Background(), b, seq)
			require.ErrorIs(t, err, keyseq.ErrInvalidSequence)
			require.Empty(t, b.events)
			return
		}
		require.NotEmpty(t, events)
		for _, ev := range events {
			require.Equal(t, ev.KeyCode, ev.Which)
			require.True(t, ev.IsTrusted)
		}
		if !strings.ContainsRune(seq, '<') {
			require.Len(t, events, len([]rune(keyseq.StripWhitespace(seq))))
		}
	})
}
