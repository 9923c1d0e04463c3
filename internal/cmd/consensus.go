package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/magi/go-controller/internal/consensus"
	"github.com/danielpatrickdp/magi/go-controller/internal/controller"
)

var (
	consensusCriticality string
	consensusOverrides   string
	consensusVerbose     bool
	consensusJSON        bool
)

var consensusCmd = &cobra.Command{
	Use:   "consensus [proposal]",
	Short: "Ask Melchior, Balthasar and Caspar to vote on a proposal",
	Long: `Evaluate a proposal with the three personas and print the aggregated decision.
With no argument, or "-", the proposal is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConsensus,
}

func init() {
	consensusCmd.Flags().StringVar(&consensusCriticality, "criticality", "", "CRITICAL, HIGH, NORMAL or LOW (default consensus.default_criticality)")
	consensusCmd.Flags().StringVar(&consensusOverrides, "overrides", "", "YAML file mapping persona name to extra instructions")
	consensusCmd.Flags().BoolVar(&consensusVerbose, "verbose", false, "include logs, summary and timeline")
	consensusCmd.Flags().BoolVar(&consensusJSON, "json", false, "print the evaluation as JSON")
	rootCmd.AddCommand(consensusCmd)
}

func runConsensus(cmd *cobra.Command, args []string) error {
	proposal, err := argOrStdin(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	overrides, err := loadOverrides(consensusOverrides)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := controller.ConsensusRequest{
		Proposal:    proposal,
		Criticality: consensusCriticality,
		Overrides:   overrides,
	}
	if cmd.Flags().Changed("verbose") {
		req.Verbose = &consensusVerbose
	}
	ev, err := rt.ctrl.Consensus(commandContext(cmd), req)
	if err != nil {
		return err
	}
	if consensusJSON {
		return printJSON(cmd.OutOrStdout(), ev)
	}
	printEvaluation(cmd.OutOrStdout(), ev)
	return nil
}

func printEvaluation(w io.Writer, ev *consensus.Evaluation) {
	fmt.Fprintf(w, "Decision: %s (risk %s)\n", ev.Decision, ev.RiskLevel)
	fmt.Fprintf(w, "Reason:   %s\n", ev.AggregateReason)
	fmt.Fprintf(w, "Trace:    %s\n\n", ev.TraceID)
	for _, p := range ev.PersonaResults {
		fmt.Fprintf(w, "  %-10s %-12s %s\n", p.Persona, p.Vote, p.Reason)
	}
	if len(ev.SuggestedActions) > 0 {
		fmt.Fprintln(w, "\nSuggested actions:")
		for _, a := range ev.SuggestedActions {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}
	if ev.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", ev.Summary)
		for _, line := range ev.Timeline {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// #region helpers

func argOrStdin(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stdinIsTerminal reports whether stdin is interactive.
func stdinIsTerminal() bool {
	st, err := os.Stdin.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

// #endregion helpers
