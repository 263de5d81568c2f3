package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpress/syncbridge/internal/config"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

var eventsCmd = &cobra.Command{
	Use:   "events <entity-type>/<entity-id>",
	Short: "Replay the event ledger for an entity",
	Long: `Events lists an entity's sync history from the append-only
ledger, oldest first. Compacted runs are summarized by the snapshot they
were folded into.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Int64("from", 1, "replay from this ledger version")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	id, ok := entity.ParseID(args[0])
	if !ok {
		return fmt.Errorf("invalid entity reference %q (want <type>/<id>)", args[0])
	}
	from, _ := cmd.Flags().GetInt64("from")
	if from < 1 {
		return fmt.Errorf("--from must be at least 1")
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

	evs, err := st.ledger.Replay(cmd.Context(), id.String(), from)
	if err != nil {
		if errors.IsNotFound(err) {
			fmt.Printf("no events recorded for %s\n", id)
			return nil
		}
		return fmt.Errorf("replaying events for %s: %w", id, err)
	}
	if len(evs) == 0 {
		fmt.Printf("no events recorded for %s\n", id)
		return nil
	}

	if cfg.Output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(evs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tTYPE\tTIMESTAMP\tEVENT ID")
	for _, ev := range evs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			ev.Version, ev.Type, ev.Timestamp.Format(time.RFC3339), ev.EventID)
	}
	return w.Flush()
}
