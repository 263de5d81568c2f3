package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentpress/syncbridge/internal/config"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/entity"
)

const timeResolution = time.Millisecond

var syncCmd = &cobra.Command{
	Use:   "sync <entity-type>/<entity-id>",
	Short: "Run one synchronization pass for an entity",
	Long: `Sync runs a single full pass for the named entity: read both
sides, detect divergence, resolve conflicts, apply the merged state, and
record the run in the event ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	id, ok := entity.ParseID(args[0])
	if !ok {
		return fmt.Errorf("invalid entity reference %q (want <type>/<id>)", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.UpdateFromFlags(verbose, quiet, cfg.NoColor, outputFmt)

	st, err := buildStack(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.coord.Sync(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("sync %s: %w", id, err)
	}

	if err := printResult(cfg.Output, result); err != nil {
		return err
	}
	if result.Outcome == coordinator.OutcomeFailed {
		return fmt.Errorf("sync %s failed: %s", id, result.Reason)
	}
	return nil
}

func printResult(format string, result *coordinator.Result) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	caser := cases.Title(language.English)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	row := func(label string, value any) {
		fmt.Fprintf(w, "%s:\t%v\n", caser.String(label), value)
	}

	row("run", result.RunID)
	row("entity", result.EntityID)
	row("outcome", result.Outcome)
	row("ledger version", result.LedgerVersion)
	if result.Noop {
		row("changes", "none")
	} else {
		row("resolutions", len(result.Resolutions))
		row("escalations", len(result.Escalations))
	}
	if result.RetryAfter > 0 {
		row("retry after", result.RetryAfter)
	}
	if result.Reason != "" {
		row("reason", result.Reason)
	}
	row("duration", result.FinishedAt.Sub(result.StartedAt).Round(timeResolution))
	if err := w.Flush(); err != nil {
		return err
	}

	for _, res := range result.Resolutions {
		fmt.Printf("  applied %s (%s, %s)\n", res.Path, res.Strategy, strings.TrimSpace(res.Reason))
	}
	for _, esc := range result.Escalations {
		fmt.Printf("  escalated %s (%s)\n", esc.Conflict.Path, esc.ID)
	}
	return nil
}
