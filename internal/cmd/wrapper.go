package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/wrapper"
)

var (
	wrapperBackend  string
	wrapperAddr     string
	wrapperGRPCAddr string
	wrapperCommand  string
)

var wrapperCmd = &cobra.Command{
	Use:   "wrapper",
	Short: "Expose a host CLI to a containerized controller",
	Long: `Serve one backend's local CLI over HTTP (POST /generate, GET /health) and,
with --grpc-addr, over gRPC. The command and timeout come from the backend's
config unless --command is given.`,
	RunE: runWrapper,
}

func init() {
	wrapperCmd.Flags().StringVar(&wrapperBackend, "backend", "", "codex, claude or gemini (required)")
	wrapperCmd.Flags().StringVar(&wrapperAddr, "addr", "", "HTTP listen address (default 127.0.0.1:9001/9002/9003)")
	wrapperCmd.Flags().StringVar(&wrapperGRPCAddr, "grpc-addr", "", "also serve gRPC on this address")
	wrapperCmd.Flags().StringVar(&wrapperCommand, "command", "", "override the CLI command line")
	_ = wrapperCmd.MarkFlagRequired("backend")
	rootCmd.AddCommand(wrapperCmd)
}

var wrapperPorts = map[generator.BackendID]string{
	generator.Codex:  "9001",
	generator.Claude: "9002",
	generator.Gemini: "9003",
}

func runWrapper(cmd *cobra.Command, _ []string) error {
	id, ok := generator.ParseBackendID(strings.ToLower(wrapperBackend))
	if !ok {
		return fmt.Errorf("unknown backend %q (want codex, claude or gemini)", wrapperBackend)
	}
	ep := cfg.Endpoints()[id]
	argv := ep.Command
	if wrapperCommand != "" {
		argv = strings.Fields(wrapperCommand)
	}
	runner, err := wrapper.NewRunner(id, argv, ep.Timeout, logger)
	if err != nil {
		return err
	}

	addr := wrapperAddr
	if addr == "" {
		addr = "127.0.0.1:" + wrapperPorts[id]
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wrapper.ServeHTTP(ctx, runner, addr) })
	if wrapperGRPCAddr != "" {
		g.Go(func() error { return wrapper.ServeGRPC(ctx, runner, wrapperGRPCAddr) })
	}
	return g.Wait()
}
