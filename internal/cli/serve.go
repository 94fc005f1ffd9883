package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewflow/internal/observer"
	"github.com/lucasnoah/reviewflow/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API",
	Long: `Start an HTTP server exposing recorded executions as JSON, a health check
backed by the store, and Prometheus metrics.

  GET /healthz
  GET /metrics
  GET /api/executions?repository_id=&pull_request_number=&status=&limit=
  GET /api/executions/:uuid`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger := newLogger(cmd, cfg)

		database, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observer.NewMetrics(reg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := web.NewServer(database, web.WithGatherer(reg), web.WithLogger(logger))
		return srv.Run(ctx, cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
