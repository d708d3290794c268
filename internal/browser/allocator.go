package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/keybridge/internal/config"
)

// AllocatorOptions translates the browser configuration into exec
// allocator options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	// DefaultExecAllocatorOptions includes headless; the overlay is meant to be seen.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewAllocator returns an allocator context that either attaches to
// cfg.RemoteURL or launches a local browser.
func NewAllocator(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc, error) {
	if cfg.RemoteURL != "" {
		if !strings.HasPrefix(cfg.RemoteURL, "ws://") && !strings.HasPrefix(cfg.RemoteURL, "wss://") &&
			!strings.HasPrefix(cfg.RemoteURL, "http://") && !strings.HasPrefix(cfg.RemoteURL, "https://") {
			return nil, nil, fmt.Errorf("browser.remote_url %q must be a ws:// or http:// DevTools endpoint", cfg.RemoteURL)
		}
		allocCtx, cancel := chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
		return allocCtx, cancel, nil
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	return allocCtx, cancel, nil
}
