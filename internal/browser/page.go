package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

const defaultActionTimeout = 10 * time.Second

// Page is one browser tab driven over CDP.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	actionTimeout time.Duration

	// Injection points; tests replace them to observe CDP traffic.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	evalFunc       func(ctx context.Context, expr string, res interface{}, awaitPromise bool) error
	listenFunc     func(fn func(ev interface{}))

	onClose   func()
	closeOnce sync.Once
}

var (
	_ schemas.PageInfo           = (*Page)(nil)
	_ schemas.ScreenshotCapturer = (*Page)(nil)
)

func newPage(ctx context.Context, cancel context.CancelFunc, actionTimeout time.Duration, logger *zap.Logger) *Page {
	id := uuid.NewString()
	if actionTimeout <= 0 {
		actionTimeout = defaultActionTimeout
	}
	p := &Page{
		id:            id,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.Named("page").With(zap.String("page_id", id)),
		actionTimeout: actionTimeout,
	}
	p.runActionsFunc = p.runActions
	p.evalFunc = p.evaluate
	p.listenFunc = func(fn func(ev interface{})) { chromedp.ListenTarget(p.ctx, fn) }
	return p
}

// ID returns the page's identifier.
func (p *Page) ID() string { return p.id }

// RunActions runs CDP actions against the tab under ctx's deadline, bounded
// by the configured action timeout.
func (p *Page) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return p.runActionsFunc(ctx, actions...)
}

func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancelOp := context.WithTimeout(ctx, p.actionTimeout)
	defer cancelOp()
	runCtx, cancel := CombineContext(p.ctx, opCtx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Evaluate runs a JavaScript expression in the page and decodes the result
// into res, which may be nil.
func (p *Page) Evaluate(ctx context.Context, expr string, res interface{}) error {
	return p.evalFunc(ctx, expr, res, false)
}

// EvaluateAsync is Evaluate for expressions that return a promise.
func (p *Page) EvaluateAsync(ctx context.Context, expr string, res interface{}) error {
	return p.evalFunc(ctx, expr, res, true)
}

func (p *Page) evaluate(ctx context.Context, expr string, res interface{}, awaitPromise bool) error {
	var opts []chromedp.EvaluateOption
	if awaitPromise {
		opts = append(opts, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		})
	}
	return p.runActions(ctx, chromedp.Evaluate(expr, res, opts...))
}

// Listen registers fn for every CDP event on the tab.
func (p *Page) Listen(fn func(ev interface{})) {
	p.listenFunc(fn)
}

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.RunActions(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	p.logger.Info("Navigated.", zap.String("url", url))
	return nil
}

// URL returns the current document URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	var href string
	if err := p.Evaluate(ctx, `document.location.href`, &href); err != nil {
		return "", fmt.Errorf("reading page URL: %w", err)
	}
	return href, nil
}

// Title returns the current document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.Evaluate(ctx, `document.title`, &title); err != nil {
		return "", fmt.Errorf("reading page title: %w", err)
	}
	return title, nil
}

// CaptureScreenshot captures the visible viewport as PNG.
func (p *Page) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("capturing screenshot: empty image")
	}
	return buf, nil
}

// AddScriptOnNewDocument installs script for every future document and runs
// it in the current one.
func (p *Page) AddScriptOnNewDocument(ctx context.Context, script string) error {
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("could not inject persistent script: %w", err)
	}
	return p.Evaluate(ctx, script, nil)
}

// AddBinding exposes a function named name to page scripts. Calls arrive
// as runtime.EventBindingCalled through Listen.
func (p *Page) AddBinding(ctx context.Context, name string) error {
	if err := p.RunActions(ctx, runtime.AddBinding(name)); err != nil {
		return fmt.Errorf("failed to add binding '%s': %w", name, err)
	}
	return nil
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.onClose != nil {
			p.onClose()
		}
		p.logger.Debug("Page closed.")
	})
}
