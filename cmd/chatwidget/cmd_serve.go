package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatwidget/internal/config"
	"chatwidget/internal/webui"
)

var (
	serveListen  string
	serveNoProxy bool
)

// serveCmd serves the browser widget
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser chat widget",
	Long: `Serves the embedded browser widget until interrupted.

The page reads its texts and wire profile from /widget-config.json, which
follows edits to the config file without a restart. Unless proxying is off,
questions are posted to this server on the endpoint's path and forwarded
to the backend with the configured headers.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from web.listen)")
	serveCmd.Flags().BoolVar(&serveNoProxy, "no-proxy", false, "Have the browser call the endpoint directly")
}

func runServe(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyServeFlags(cfg)

	srv, err := webui.New(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		watcher, err := watchConfig(gctx, func(next *config.Config) {
			applyServeFlags(next)
			srv.ApplyConfig(next)
			logger.Info("Config reloaded", zap.String("endpoint", next.Backend.Endpoint))
		})
		if err != nil {
			return err
		}
		<-gctx.Done()
		return watcher.Stop()
	})
	g.Go(func() error {
		select {
		case <-srv.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "Chat widget on http://%s (Ctrl+C to stop)\n", srv.Addr())
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// applyServeFlags applies serve-only flag overrides.
func applyServeFlags(c *config.Config) {
	if serveListen != "" {
		c.Web.Listen = serveListen
	}
	if serveNoProxy {
		c.Web.Proxy = false
	}
}
