package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		journal string
		service string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded convergence runs",
		Example: `  mysql-service history --limit 5
  mysql-service history --service app1
  mysql-service history show 3f2a9c1e-...
  mysql-service history prune --keep 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), journal, func(ctx context.Context, st *stores.SQLiteStore) error {
				runs, err := st.ListRuns(ctx, stores.ListOptions{ServiceName: service, Limit: limit})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(w, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(w, infoMsg("No runs recorded"))
					return nil
				}
				fmt.Fprintln(w, runsTable(runs))
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVar(&journal, "journal", "", "run journal database path")
	cmd.Flags().StringVar(&service, "service", "", "only list runs of this service")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")

	cmd.AddCommand(newHistoryShowCommand(&journal))
	cmd.AddCommand(newHistoryPruneCommand(&journal))

	return cmd
}

func newHistoryShowCommand(journal *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the steps of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), *journal, func(ctx context.Context, st *stores.SQLiteStore) error {
				run, err := st.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), run)
			})
		},
	}
}

func newHistoryPruneCommand(journal *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), *journal, func(ctx context.Context, st *stores.SQLiteStore) error {
				n, err := st.Prune(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), successMsg("Pruned %d runs", n))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of recent runs to keep")
	return cmd
}

// withJournal opens the configured journal, or the one at path, for fn.
func withJournal(ctx context.Context, path string, fn func(context.Context, *stores.SQLiteStore) error) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.Journal.Path
	}

	st, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer st.Close()

	return fn(ctx, st)
}

func printRun(w io.Writer, run *stores.Run) error {
	if jsonOutput {
		return writeJSON(w, run)
	}

	fmt.Fprintln(w, infoMsg("%s %s on %s, run %s", run.ServiceName, run.Action, run.Host, run.ID))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("started %s, took %s",
		run.StartedAt.Local().Format(time.DateTime), run.Duration().Round(time.Millisecond))))
	if len(run.Steps) > 0 {
		fmt.Fprintln(w, recordsTable(run.Steps))
	}

	if run.ErrorKind != "" {
		msg := fmt.Sprintf("%s: %s", run.ErrorKind, run.ErrorMessage)
		if run.ErrorStep != "" {
			msg = fmt.Sprintf("%s at %s: %s", run.ErrorKind, run.ErrorStep, run.ErrorMessage)
		}
		fmt.Fprintln(w, errorMsg("%s", msg))
		return nil
	}
	fmt.Fprintln(w, successMsg("%s, %d changed, %d collapsed", run.Status, run.Changed, run.Collapsed))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
