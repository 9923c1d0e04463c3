package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the sqlite file holding decision_log")
	last := flag.Int("last", 20, "show N most recent decisions")
	mode := flag.String("mode", "", "filter by mode (consensus or proposal_battle)")
	trace := flag.String("trace", "", "show every decision recorded under one trace id")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/magi.db [--last N] [--mode consensus|proposal_battle] [--trace id] [--json]")
		os.Exit(2)
	}

	trail, err := logging.OpenTrail(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer trail.Close()

	ctx := context.Background()
	if *trace != "" {
		err = runDetailMode(ctx, os.Stdout, trail, *trace, *jsonOut)
	} else {
		err = runListMode(ctx, os.Stdout, trail, *mode, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	TraceID   string `json:"trace_id"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode"`
	Outcome   string `json:"outcome"`
	RiskLevel string `json:"risk_level,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runListMode(ctx context.Context, w io.Writer, trail *logging.Trail, mode string, last int, jsonOut bool) error {
	entries, err := trail.Recent(ctx, mode, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	// trail returns newest first, print chronologically
	rows := make([]listRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = listRow{
			TraceID:   e.TraceID,
			SessionID: e.SessionID,
			Mode:      e.Mode,
			Outcome:   e.Outcome,
			RiskLevel: e.RiskLevel,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	printListTable(w, rows)
	return nil
}

func printListTable(w io.Writer, rows []listRow) {
	fmt.Fprintf(w, "%-10s  %-15s  %-6s  %-20s  %s\n", "Trace", "Mode", "Risk", "Time", "Outcome")
	fmt.Fprintf(w, "%-10s+-%-15s+-%-6s+-%-20s+-%s\n",
		"----------", "---------------", "------", "--------------------", "----------------")
	for _, r := range rows {
		risk := r.RiskLevel
		if risk == "" {
			risk = "-"
		}
		fmt.Fprintf(w, "%-10s  %-15s  %-6s  %-20s  %s\n", shortID(r.TraceID), r.Mode, risk, r.CreatedAt, r.Outcome)
	}
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	TraceID   string                   `json:"trace_id"`
	SessionID string                   `json:"session_id,omitempty"`
	Mode      string                   `json:"mode"`
	Input     string                   `json:"input,omitempty"`
	Outcome   string                   `json:"outcome"`
	RiskLevel string                   `json:"risk_level,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	CreatedAt string                   `json:"created_at"`
	Consensus *logging.ConsensusRecord `json:"consensus,omitempty"`
	Battle    *logging.BattleRecord    `json:"battle,omitempty"`
}

func runDetailMode(ctx context.Context, w io.Writer, trail *logging.Trail, traceID string, jsonOut bool) error {
	entries, err := trail.ByTrace(ctx, traceID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("trace %s not found", traceID)
	}

	out := make([]detailOutput, 0, len(entries))
	for _, e := range entries {
		d := detailOutput{
			TraceID:   e.TraceID,
			SessionID: e.SessionID,
			Mode:      e.Mode,
			Input:     e.Input,
			Outcome:   e.Outcome,
			RiskLevel: e.RiskLevel,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		switch e.Mode {
		case "consensus":
			d.Consensus = parseRecord[logging.ConsensusRecord](e.DetailJSON)
		case "proposal_battle":
			d.Battle = parseRecord[logging.BattleRecord](e.DetailJSON)
		}
		out = append(out, d)
	}

	if jsonOut {
		return printJSON(w, out)
	}
	for i, d := range out {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printDetail(w, d)
	}
	return nil
}

func printDetail(w io.Writer, d detailOutput) {
	fmt.Fprintf(w, "Trace:    %s\n", d.TraceID)
	if d.SessionID != "" {
		fmt.Fprintf(w, "Session:  %s\n", d.SessionID)
	}
	fmt.Fprintf(w, "Mode:     %s\n", d.Mode)
	fmt.Fprintf(w, "Created:  %s\n", d.CreatedAt)
	fmt.Fprintf(w, "Outcome:  %s\n", d.Outcome)
	if d.Reason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", d.Reason)
	}
	if d.Input != "" {
		fmt.Fprintf(w, "Input:    %s\n", d.Input)
	}

	if c := d.Consensus; c != nil {
		fmt.Fprintf(w, "\nConsensus (%s, score %.2f, vetoed %v):\n", c.Criticality, c.Score, c.Vetoed)
		for _, p := range c.Personas {
			served := p.Backend
			if p.Fallback != "" {
				served += " (fallback)"
			}
			fmt.Fprintf(w, "  %-10s %-12s %-18s %s\n", p.Persona, p.Vote, served, p.Reason)
		}
	}
	if b := d.Battle; b != nil {
		fmt.Fprintf(w, "\nBattle (policy %s", b.Policy)
		if b.SingleBackend != "" {
			fmt.Fprintf(w, ", single backend %s", b.SingleBackend)
		}
		if b.Exhausted {
			fmt.Fprint(w, ", exhausted")
		}
		fmt.Fprintln(w, "):")
		for _, s := range b.Stages {
			fmt.Fprintf(w, "  %-8s %-8s %-8s %6dms  %s\n", s.Slot, s.Backend, s.Status, s.DurationMS, s.Reason)
		}
	}
}

// #endregion detail-mode

// #region output

func parseRecord[T any](detailJSON string) *T {
	if detailJSON == "" {
		return nil
	}
	var rec T
	if err := json.Unmarshal([]byte(detailJSON), &rec); err != nil {
		return nil
	}
	return &rec
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
