// Package service assembles the components a keybridge session runs on and
// releases them in order.
package service

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/keybridge/internal/agent"
	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/browser"
	"github.com/xkilldash9x/keybridge/internal/bus"
	"github.com/xkilldash9x/keybridge/internal/settings"
	"github.com/xkilldash9x/keybridge/internal/store"
)

// Components holds the initialized services behind one bridge session.
// Any field may be nil when initialization stopped early or the feature is
// switched off.
type Components struct {
	Session  *bridge.Session
	Settings *settings.Store
	Agent    *agent.Service
	Bus      *bus.Bus
	Overlay  *browser.Overlay
	Page     *browser.Page
	Browser  *browser.Manager
	Store    *store.Store
	DBPool   *pgxpool.Pool

	logger       *zap.Logger
	shutdownOnce sync.Once
}

// Shutdown releases the components, consumers before producers: the bus
// first so no more panel messages arrive, then the model client, the
// browser and finally the database pool. It is safe to call more than once.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Debug("Beginning components shutdown sequence.")

		if c.Bus != nil {
			c.Bus.Shutdown()
			logger.Debug("Overlay bus shut down.")
		}
		if c.Agent != nil {
			if err := c.Agent.Close(); err != nil {
				logger.Warn("Error closing model client.", zap.Error(err))
			}
		}
		if c.Page != nil {
			c.Page.Close()
		}
		if c.Browser != nil {
			c.Browser.Close()
			logger.Debug("Browser manager shut down.")
		}
		if c.DBPool != nil {
			c.DBPool.Close()
			logger.Debug("Database connection pool closed.")
		}
		logger.Info("All session components shut down.")
	})
}
