package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
	"github.com/xkilldash9x/keybridge/internal/bus"
)

// DefaultBindingName is the page function the panel calls to reach the bridge.
const DefaultBindingName = "__keybridgeSend"

const postTimeout = 5 * time.Second

var (
	//go:embed assets/overlay.js
	overlayScript string
	//go:embed assets/overlay.css
	overlayStyle string
	//go:embed assets/overlay.html
	overlayMarkup string
)

// Overlay renders the panel inside the page's shadow DOM. Messages the panel
// raises arrive through a CDP binding and are posted to the overlay bus.
type Overlay struct {
	page        *Page
	bus         *bus.Bus
	bindingName string
	logger      *zap.Logger

	mu          sync.Mutex
	initialized bool
	showing     bool
}

var _ schemas.OverlaySurface = (*Overlay)(nil)

// NewOverlay creates the overlay for page. Inbound messages go to b. An empty
// bindingName uses DefaultBindingName.
func NewOverlay(page *Page, b *bus.Bus, bindingName string, logger *zap.Logger) *Overlay {
	if bindingName == "" {
		bindingName = DefaultBindingName
	}
	return &Overlay{
		page:        page,
		bus:         b,
		bindingName: bindingName,
		logger:      logger.Named("overlay"),
	}
}

// Init registers the binding and injects the panel script into the current
// and all future documents.
func (o *Overlay) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return nil
	}

	if err := o.page.AddBinding(ctx, o.bindingName); err != nil {
		return err
	}
	o.page.Listen(o.handleEvent)
	if err := o.page.AddScriptOnNewDocument(ctx, o.script()); err != nil {
		return fmt.Errorf("injecting overlay: %w", err)
	}
	if err := o.page.Evaluate(ctx, `globalThis.__keybridge.init()`, nil); err != nil {
		return fmt.Errorf("mounting overlay: %w", err)
	}
	o.initialized = true
	o.logger.Debug("Overlay initialized.", zap.String("binding", o.bindingName))
	return nil
}

// Initialized reports whether Init has completed.
func (o *Overlay) Initialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialized
}

// Show reveals the panel with msg applied.
func (o *Overlay) Show(ctx context.Context, msg schemas.OverlayMessage, opts schemas.ShowOptions) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding overlay message: %w", err)
	}
	expr := fmt.Sprintf(`globalThis.__keybridge.show(%s, %t)`, payload, opts.Focus)
	if err := o.page.Evaluate(ctx, expr, nil); err != nil {
		return fmt.Errorf("showing overlay: %w", err)
	}
	o.setShowing(true)
	return nil
}

// Hide conceals the panel.
func (o *Overlay) Hide(ctx context.Context) error {
	if err := o.page.Evaluate(ctx, `globalThis.__keybridge.hide()`, nil); err != nil {
		return fmt.Errorf("hiding overlay: %w", err)
	}
	o.setShowing(false)
	return nil
}

// Showing reports whether the panel is visible.
func (o *Overlay) Showing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.showing
}

// Post delivers msg to the panel. While showing, it also re-reveals the
// panel in case a navigation replaced the document.
func (o *Overlay) Post(ctx context.Context, msg schemas.OverlayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding overlay message: %w", err)
	}
	expr := fmt.Sprintf(`globalThis.__keybridge.receive(%s, %t)`, payload, o.Showing())
	if err := o.page.Evaluate(ctx, expr, nil); err != nil {
		return fmt.Errorf("posting %s to overlay: %w", msg.Name, err)
	}
	return nil
}

// SetHiddenForCapture switches the panel to its near-transparent capture look.
func (o *Overlay) SetHiddenForCapture(ctx context.Context, hidden bool) error {
	if err := o.page.Evaluate(ctx, fmt.Sprintf(`globalThis.__keybridge.setCapture(%t)`, hidden), nil); err != nil {
		return fmt.Errorf("toggling capture presentation: %w", err)
	}
	return nil
}

// AwaitFrames resolves after n animation frames have rendered.
func (o *Overlay) AwaitFrames(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	var done bool
	if err := o.page.EvaluateAsync(ctx, fmt.Sprintf(`globalThis.__keybridge.frames(%d)`, n), &done); err != nil {
		return fmt.Errorf("waiting for %d frames: %w", n, err)
	}
	return nil
}

func (o *Overlay) setShowing(v bool) {
	o.mu.Lock()
	o.showing = v
	o.mu.Unlock()
}

func (o *Overlay) script() string {
	return strings.NewReplacer(
		"__KEYBRIDGE_BINDING__", jsString(o.bindingName),
		"__KEYBRIDGE_MARKUP__", jsString(overlayMarkup),
		"__KEYBRIDGE_STYLE__", jsString(overlayStyle),
	).Replace(overlayScript)
}

// handleEvent runs on the CDP event goroutine, so delivery to the bus
// happens on its own goroutine.
func (o *Overlay) handleEvent(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != o.bindingName {
		return
	}
	var msg schemas.OverlayMessage
	if err := json.Unmarshal([]byte(called.Payload), &msg); err != nil {
		o.logger.Warn("Discarding malformed overlay message.", zap.Error(err))
		return
	}
	if msg.Name == "" {
		o.logger.Warn("Discarding overlay message without a name.")
		return
	}
	go o.forward(msg)
}

func (o *Overlay) forward(msg schemas.OverlayMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	if err := o.bus.Post(ctx, msg); err != nil {
		o.logger.Warn("Could not deliver overlay message.", zap.String("name", string(msg.Name)), zap.Error(err))
	}
}
