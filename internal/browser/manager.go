// Package browser drives a Chromium tab over the DevTools protocol and
// provides the concrete page, keyboard, editor and overlay used by the bridge.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/internal/config"
)

const (
	defaultStartupTimeout = 30 * time.Second
	shutdownGracePeriod   = 10 * time.Second
)

// Manager owns the browser allocator and the pages opened on it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu    sync.Mutex
	pages map[string]*Page
	wg    sync.WaitGroup
}

// NewManager creates the allocator. The browser process itself starts with
// the first page.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	allocCtx, cancel, err := NewAllocator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser_manager"),
		allocCtx:    allocCtx,
		allocCancel: cancel,
		pages:       make(map[string]*Page),
	}
	if cfg.RemoteURL != "" {
		m.logger.Info("Browser manager attached to remote browser.", zap.String("remote_url", cfg.RemoteURL))
	} else {
		m.logger.Info("Browser manager created.", zap.Bool("headless", cfg.Headless))
	}
	return m, nil
}

// NewPage opens a tab and waits until its target is attached.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	startup := m.cfg.StartupTimeout
	if startup <= 0 {
		startup = defaultStartupTimeout
	}
	startCtx, cancelStart := context.WithTimeout(ctx, startup)
	defer cancelStart()

	// The first Run allocates the browser and the tab and binds their
	// lifetime to the context it is given, so it must run on tabCtx itself.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("failed to start browser tab: %w", err)
		}
	case <-startCtx.Done():
		tabCancel()
		<-started
		return nil, fmt.Errorf("failed to start browser tab: %w", startCtx.Err())
	}

	p := newPage(tabCtx, tabCancel, m.cfg.ActionTimeout, m.logger)
	m.wg.Add(1)
	p.onClose = func() {
		m.mu.Lock()
		delete(m.pages, p.ID())
		m.mu.Unlock()
		m.wg.Done()
	}

	m.mu.Lock()
	m.pages[p.ID()] = p
	m.mu.Unlock()

	m.logger.Info("New page created.", zap.String("page_id", p.ID()))
	return p, nil
}

// Close closes every page and then the browser.
func (m *Manager) Close() {
	m.mu.Lock()
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timed out waiting for pages to close.")
	}
	m.allocCancel()
	m.logger.Info("Browser manager shut down.")
}
