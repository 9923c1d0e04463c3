package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/magi/go-controller/internal/api"
	"github.com/danielpatrickdp/magi/go-controller/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MAGI HTTP API",
	Long: `Serve /magi/start, /magi/step, /magi/stop, /magi/judge, /magi/consensus,
/health and /status. With --config the file is watched and weights, thresholds,
fallback policy and defaults are reloaded without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfgFile != "" {
		config.Watch(v, func(next *config.Config, err error) {
			if err != nil {
				logger.Error("config reload rejected", "file", cfgFile, "err", err)
				return
			}
			rt.ctrl.ApplyConfig(next)
		})
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	return api.NewServer(rt.ctrl, logger).Serve(ctx, addr, cfg.ShutdownTimeout())
}
