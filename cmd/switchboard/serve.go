package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/presenter"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatch API over HTTP",
	Long: `Start an HTTP server exposing agents, matching, dispatch, plan execution and
registry reloads as a JSON API. With registry.watch enabled, edits to agent
and skill definitions reload the registry automatically; in-flight plans keep
the registry they were dispatched against.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(&server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, a.engine, a.store)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(ctx)
		})
		if cfg.Registry.Watch {
			g.Go(func() error {
				return registry.NewWatcher(a.holder).Run(ctx)
			})
		}

		presenter.Info(fmt.Sprintf("Serving on http://%s:%d", cfg.Server.Host, cfg.Server.Port))
		logger.G(ctx).WithField("watch", cfg.Registry.Watch).Debug("serve started")
		return g.Wait()
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("host", "localhost", "Host to bind the server to")
	flags.Int("port", 8421, "Port to bind the server to")
	flags.Bool("watch", false, "Reload the registry when definitions change")

	bindFlags(flags, map[string]string{
		"server.host":    "host",
		"server.port":    "port",
		"registry.watch": "watch",
	})
}
