package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/keybridge/internal/bridge"
	"github.com/xkilldash9x/keybridge/internal/observability"
	"github.com/xkilldash9x/keybridge/internal/service"
)

func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Opens a page with the overlay panel and serves it until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			target := normalizeURL(args[0])
			components, err := factory.Create(ctx, cfg, service.Options{URL: target}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session components: %w", err)
			}
			defer components.Shutdown()

			logger.Info("Bridge attached.", zap.String("url", target), zap.String("session_id", components.Session.ID()))
			fmt.Fprintf(cmd.OutOrStdout(), "Bridge attached to %s. Press Ctrl+C to stop.\n", target)

			err = runSession(ctx, components.Session, cfg.Overlay().AnalyzeEvery, logger)
			if archiveErr := components.Session.Archive(context.WithoutCancel(ctx)); archiveErr != nil {
				logger.Warn("Failed to archive final transcript.", zap.Error(archiveErr))
			}
			return err
		},
	}

	runCmd.Flags().Bool("headless", false, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().String("remote-url", "", "Attach to a running browser's DevTools URL instead of launching one.")
	runCmd.Flags().Duration("analyze-every", 0, "Run a page analysis at this interval, e.g. 30s. (Overrides config/env)")
	return runCmd
}

// overlaySession is the part of bridge.Session the run loop drives.
type overlaySession interface {
	Show(ctx context.Context) error
	Serve(ctx context.Context) error
	RunAnalysis(ctx context.Context) error
}

// runSession shows the panel, serves its messages and, when every is
// positive, runs scheduled analyses until ctx is cancelled. Cancellation is
// a clean exit.
func runSession(ctx context.Context, sess overlaySession, every time.Duration, logger *zap.Logger) error {
	if err := sess.Show(ctx); err != nil && !errors.Is(err, bridge.ErrNoSurface) {
		return fmt.Errorf("failed to show overlay: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Serve(gctx)
	})
	if every > 0 {
		g.Go(func() error {
			return analyzeEvery(gctx, sess, every, logger)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("Session stopped.")
		return nil
	}
	return err
}

func analyzeEvery(ctx context.Context, sess overlaySession, every time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	logger.Info("Scheduled analysis enabled.", zap.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sess.RunAnalysis(ctx); err != nil {
				return err
			}
		}
	}
}

// normalizeURL adds https:// when the argument has no scheme.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	return "https://" + raw
}
