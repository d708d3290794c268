package browser

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/keybridge/internal/action"
)

// refRegistry is the page global holding elements handed out as
// action.Target refs.
const refRegistry = "__keybridgeRefs"

// editableProbe is shared by the lookup scripts. It treats enabled,
// writable text inputs, textareas and contenteditable elements as editable.
const editableProbe = `
const textTypes = ["", "text", "search", "email", "url", "tel", "password", "number"];
const isEditable = (el) => {
  if (!el || el.nodeType !== 1) return false;
  if (el.isContentEditable) return true;
  const tag = el.tagName.toLowerCase();
  if (tag === "textarea") return !el.disabled && !el.readOnly;
  if (tag === "input") {
    return textTypes.includes((el.getAttribute("type") || "").toLowerCase()) && !el.disabled && !el.readOnly;
  }
  return false;
};
const remember = (ref, el) => {
  const refs = (globalThis.%[1]s = globalThis.%[1]s || new Map());
  refs.set(ref, el);
};
const deepActive = () => {
  let el = document.activeElement;
  while (el && el.shadowRoot && el.shadowRoot.activeElement) el = el.shadowRoot.activeElement;
  return el;
};
`

type editableResult struct {
	Editable        bool `json:"editable"`
	ContentEditable bool `json:"contentEditable"`
}

// DOMEditor implements action.Editor with page scripts.
type DOMEditor struct {
	page *Page
}

var _ action.Editor = (*DOMEditor)(nil)

// NewDOMEditor creates an editor for page.
func NewDOMEditor(page *Page) *DOMEditor {
	return &DOMEditor{page: page}
}

// ResolveEditable looks up selector with querySelector. An invalid selector
// reports no match rather than an error.
func (e *DOMEditor) ResolveEditable(ctx context.Context, selector string) (action.Target, bool, error) {
	ref := uuid.NewString()
	script := fmt.Sprintf(`(() => {%s
  let el = null;
  try { el = document.querySelector(%s); } catch (e) { return {editable: false}; }
  if (!isEditable(el)) return {editable: false};
  remember(%s, el);
  return {editable: true, contentEditable: el.isContentEditable};
})()`, probe(), jsString(selector), jsString(ref))
	return e.resolve(ctx, script, ref)
}

// FocusedEditable reports the focused element, descending into open shadow roots.
func (e *DOMEditor) FocusedEditable(ctx context.Context) (action.Target, bool, error) {
	ref := uuid.NewString()
	script := fmt.Sprintf(`(() => {%s
  const el = deepActive();
  if (!isEditable(el)) return {editable: false};
  remember(%s, el);
  return {editable: true, contentEditable: el.isContentEditable};
})()`, probe(), jsString(ref))
	return e.resolve(ctx, script, ref)
}

func (e *DOMEditor) resolve(ctx context.Context, script, ref string) (action.Target, bool, error) {
	var res editableResult
	if err := e.page.Evaluate(ctx, script, &res); err != nil {
		return action.Target{}, false, fmt.Errorf("probing editable element: %w", err)
	}
	if !res.Editable {
		return action.Target{}, false, nil
	}
	return action.Target{Ref: ref, ContentEditable: res.ContentEditable}, true, nil
}

// SetText focuses target, replaces its content and fires bubbling input and
// change events.
func (e *DOMEditor) SetText(ctx context.Context, target action.Target, text string) error {
	script := fmt.Sprintf(`(() => {
  const refs = globalThis.%s;
  const el = refs && refs.get(%s);
  if (!el || !el.isConnected) return false;
  refs.delete(%s);
  el.focus();
  if (el.isContentEditable) {
    el.textContent = %s;
  } else {
    el.value = %s;
  }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return true;
})()`, refRegistry, jsString(target.Ref), jsString(target.Ref), jsString(text), jsString(text))

	var ok bool
	if err := e.page.Evaluate(ctx, script, &ok); err != nil {
		return fmt.Errorf("writing text: %w", err)
	}
	if !ok {
		return fmt.Errorf("editable element %s is gone", target.Ref)
	}
	return nil
}

func probe() string {
	return fmt.Sprintf(editableProbe, refRegistry)
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
