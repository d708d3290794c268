package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/internal/action"
	"github.com/xkilldash9x/keybridge/internal/agent"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/browser"
	"github.com/xkilldash9x/keybridge/internal/bus"
	"github.com/xkilldash9x/keybridge/internal/config"
	"github.com/xkilldash9x/keybridge/internal/settings"
)

// Options select what a session is created with.
type Options struct {
	// URL is loaded into the new tab. Empty leaves the tab blank.
	URL string
	// NoOverlay runs the session without the in-page panel.
	NoOverlay bool
}

// ComponentFactory creates the set of components a session needs. Commands
// depend on it so their logic can be tested without a browser.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the database, settings, browser, model service and overlay
// into a bridge session. On failure everything created so far is shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (_ *Components, err error) {
	components := &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			components.Shutdown()
		}
	}()

	// 1. Database, only when something persists to it.
	dbCfg := cfg.Database()
	needsDB := cfg.Settings().Backend == config.SettingsBackendPostgres || dbCfg.ArchiveTranscripts
	var repo settings.Repository
	if needsDB {
		if dbCfg.URL == "" {
			return nil, fmt.Errorf("database URL is not configured (hint: check KEYBRIDGE_DATABASE_URL)")
		}
		dbStore, pool, err := InitializeStore(ctx, dbCfg.URL, logger)
		if err != nil {
			return nil, err
		}
		components.Store = dbStore
		components.DBPool = pool
		repo = dbStore
	}

	// 2. Settings.
	settingsStore, err := InitializeSettings(ctx, cfg.Settings(), repo, logger)
	if err != nil {
		return nil, err
	}
	components.Settings = settingsStore

	// 3. Browser and page.
	manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.Browser = manager

	page, err := manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	components.Page = page
	if opts.URL != "" {
		if err := page.Navigate(ctx, opts.URL); err != nil {
			return nil, err
		}
	}

	// 4. Model service.
	components.Agent = agent.NewService(cfg.Agent(), settingsStore, logger,
		agent.WithScreenshotCapturer(page))

	// 5. Overlay and its message bus.
	overlayCfg := cfg.Overlay()
	components.Bus = bus.New(logger, overlayCfg.BusBuffer)
	deps := bridge.Deps{
		Settings:    settingsStore,
		Agent:       components.Agent,
		Interpreter: action.NewInterpreter(logger, browser.NewKeyboard(page), browser.NewDOMEditor(page)),
		Page:        page,
		Bus:         components.Bus,
	}
	if !opts.NoOverlay {
		components.Overlay = browser.NewOverlay(page, components.Bus, overlayCfg.BindingName, logger)
		deps.Surface = components.Overlay
	}

	// 6. Session.
	sessionOpts := []bridge.Option{bridge.WithRequestTimeout(cfg.Agent().RequestTimeout)}
	if dbCfg.ArchiveTranscripts && components.Store != nil {
		sessionOpts = append(sessionOpts, bridge.WithArchiver(components.Store))
	}
	sess, err := bridge.NewSession(logger, deps, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge session: %w", err)
	}
	components.Session = sess

	logger.Info("Session components initialized.",
		zap.String("session_id", sess.ID()),
		zap.Bool("overlay", !opts.NoOverlay),
		zap.Bool("archive", dbCfg.ArchiveTranscripts))
	return components, nil
}
