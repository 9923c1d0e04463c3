package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the three generator backends",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the health report as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	report := rt.ctrl.Health(commandContext(cmd))
	if statusJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tAVAILABLE\tKIND\tPATH\tMESSAGE")
	for _, id := range generator.Canonical {
		h := report.Backends[id]
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", id, h.Available, h.Kind, h.Path, h.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nstatus: %s\n", report.Status)
	return nil
}
