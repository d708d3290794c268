package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

const defaultSystemPrompt = `You drive a web browser that is controlled with Vimium style keyboard commands.
You receive the user's task, the current page URL and title, and possibly a screenshot of the visible viewport.
Decide the single next step and respond with one JSON object with these fields:
  "thought":     your short reasoning.
  "action":      the keys to press now, in key notation, or an action object.
  "observation": what you see on the page that matters for the task.
  "nextAction":  the keys you expect to press after this one, or "" if done.

Key notation: plain characters are typed as-is; special keys go in angle brackets,
for example <esc>, <enter>, <tab>, <up>, <c-f> (ctrl+f), <s-tab> (shift+tab), <a-left> (alt+left).
Useful Vimium keys: j/k scroll, d/u half page, gg/G top/bottom, f link hints, H/L history, / find.

To type into a text field use an action object:
  {"type": "type", "text": "hello", "selector": "input[name=q]"}
The selector is optional; the focused field is used when it is omitted.
To press keys with an object use {"type": "key", "key": "<enter>"}.

Respond with JSON only.`

// buildUserPrompt renders the per-request prompt from the task and page.
func buildUserPrompt(req schemas.AgentRequest, withScreenshot bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", strings.TrimSpace(req.Prompt))
	sb.WriteString("Current page:\n")
	fmt.Fprintf(&sb, "  URL: %s\n", orUnknown(req.PageContext.URL))
	fmt.Fprintf(&sb, "  Title: %s\n", orUnknown(req.PageContext.Title))
	if withScreenshot {
		sb.WriteString("\nA screenshot of the visible viewport is attached.\n")
	}
	sb.WriteString("\nDecide the next keyboard action.")
	return sb.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}
