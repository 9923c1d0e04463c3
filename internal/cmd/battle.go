package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/magi/go-controller/internal/controller"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

var (
	battleSkipClaude bool
	battleVerbose    bool
	battleJSON       bool
	battleAdopt      string
)

var battleCmd = &cobra.Command{
	Use:   "battle [task]",
	Short: "Run the Codex -> Claude -> Gemini proposal battle",
	Long: `Run one proposal battle and print the three outputs.
With no argument on an interactive terminal, battle becomes a prompt loop:
each task runs in a fresh session and you pick the output to adopt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBattle,
}

func init() {
	battleCmd.Flags().BoolVar(&battleSkipClaude, "skip-claude", false, "skip the evaluation stage")
	battleCmd.Flags().BoolVar(&battleVerbose, "verbose", false, "include logs, summary and timeline")
	battleCmd.Flags().BoolVar(&battleJSON, "json", false, "print the result as JSON")
	battleCmd.Flags().StringVar(&battleAdopt, "adopt", "", "print only the adopted output (codex, claude or gemini)")
	rootCmd.AddCommand(battleCmd)
}

func runBattle(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := commandContext(cmd)
	if len(args) == 0 && stdinIsTerminal() {
		return battleLoop(ctx, rt.ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
	}
	task, err := argOrStdin(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	res, err := rt.ctrl.Start(ctx, battleRequest(task))
	if err != nil {
		return err
	}
	defer rt.ctrl.Stop(ctx, res.SessionID)

	out := cmd.OutOrStdout()
	if battleAdopt != "" {
		step, err := rt.ctrl.Step(ctx, res.SessionID, battleAdopt)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, step.AdoptedText)
		return nil
	}
	if battleJSON {
		return printJSON(out, res)
	}
	printBattle(out, res)
	return nil
}

func battleRequest(task string) controller.StartRequest {
	req := controller.StartRequest{Prompt: task, Mode: controller.ModeProposalBattle, SkipClaude: battleSkipClaude}
	if battleVerbose {
		req.Verbose = &battleVerbose
	}
	return req
}

// battleLoop reads tasks line by line until EOF or "quit".
func battleLoop(ctx context.Context, ctrl *controller.Controller, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "MAGI proposal battle ready.")
	fmt.Fprintln(out, "Type a task (or 'quit' to exit):")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		task := strings.TrimSpace(scanner.Text())
		if task == "" {
			continue
		}
		if task == "quit" || task == "exit" {
			break
		}

		res, err := ctrl.Start(ctx, battleRequest(task))
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printBattle(out, res)

		fmt.Fprint(out, "adopt [codex/claude/gemini/judge, empty to skip]> ")
		if !scanner.Scan() {
			ctrl.Stop(ctx, res.SessionID)
			break
		}
		switch choice := strings.TrimSpace(scanner.Text()); strings.ToLower(choice) {
		case "":
		case "judge":
			j, err := ctrl.Judge(ctx, res.SessionID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				break
			}
			fmt.Fprintf(out, "\n%s\n", j.Prompt)
		default:
			step, err := ctrl.Step(ctx, res.SessionID, choice)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				break
			}
			fmt.Fprintf(out, "[adopted %s]\n%s\n", step.AdoptedModel, step.AdoptedText)
		}
		ctrl.Stop(ctx, res.SessionID)
	}
	return scanner.Err()
}

func printBattle(w io.Writer, res *controller.StartResult) {
	fmt.Fprintf(w, "Session %s (trace %s)\n", res.SessionID, res.TraceID)
	for _, id := range generator.Canonical {
		o, ok := res.Results[id]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n=== %s [%s, %dms] ===\n", strings.ToUpper(string(id)), o.Metadata.Status, o.Metadata.DurationMS)
		if o.Metadata.Fallback != nil {
			fmt.Fprintf(w, "(served by %s)\n", o.Metadata.Backend)
		}
		fmt.Fprintln(w, o.Content)
	}
	if res.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", res.Summary)
		for _, line := range res.Timeline {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}
