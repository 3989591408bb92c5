package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/config"
	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/mysql"
	"github.com/openfroyo/mysql-service/pkg/stores"
	"github.com/openfroyo/mysql-service/pkg/telemetry"
)

// convergeFlags are shared by converge and watch.
type convergeFlags struct {
	descriptor      string
	name            string
	action          string
	dryRun          bool
	strict          bool
	journal         string
	noJournal       bool
	policyDir       string
	metricsTextfile string
	target          targetFlags
}

func (f *convergeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.descriptor, "descriptor", "d", "", "descriptor file (.yaml, .json, .cue or .hcl)")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "service name to select when the file declares several")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report what would change without changing anything")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "treat policy warnings as errors")
	cmd.Flags().StringVar(&f.journal, "journal", "", "run journal database path")
	cmd.Flags().BoolVar(&f.noJournal, "no-journal", false, "do not record the run in the journal")
	cmd.Flags().StringVar(&f.policyDir, "policy", "", "directory of additional .rego policies")
	cmd.Flags().StringVar(&f.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after each run")
	f.target.register(cmd)
	_ = cmd.MarkFlagRequired("descriptor")
}

// config loads the agent config with the flag overrides applied.
func (f *convergeFlags) config() (*config.AgentConfig, error) {
	cfg, err := loadConfig(&f.target)
	if err != nil {
		return nil, err
	}
	if f.journal != "" {
		cfg.Journal.Enabled = true
		cfg.Journal.Path = f.journal
	}
	if f.noJournal {
		cfg.Journal.Enabled = false
	}
	if f.policyDir != "" {
		cfg.Policy.Dir = f.policyDir
	}
	if f.metricsTextfile != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.TextfilePath = f.metricsTextfile
	}
	return cfg, nil
}

func newConvergeCommand() *cobra.Command {
	var flags convergeFlags

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge a MySQL service instance",
		Long: `Converge runs one action for one service instance.

The create action installs the server package, renders the instance
configuration, registers the instance job and migrates the data directory.
Restart and reload act on the instance job only.

Descriptors are checked against the admission policies first; the run is
recorded in the journal unless --no-journal is given.`,
		Example: `  # Create the instance declared in app1.yaml on this machine
  mysql-service converge -d app1.yaml

  # Restart it on a remote host
  mysql-service converge -d app1.yaml --action restart --host deploy@db1:2222 --sudo

  # Preview a create without changing anything
  mysql-service converge -d services.cue --name app1 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := mysql.ParseAction(flags.action)
			if err != nil {
				return err
			}

			desc, err := config.LoadDescriptor(flags.descriptor, flags.name)
			if err != nil {
				return err
			}

			cfg, err := flags.config()
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), cfg, sessionOptions{host: true, journal: true})
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			report, err := runConverge(cmd.Context(), s, desc, action, flags.dryRun, flags.strict)
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.action, "action", "a", string(mysql.ActionCreate), "action to run (create, restart or reload)")

	return cmd
}

// runConverge admits, converges and journals one request.
func runConverge(ctx context.Context, s *session, desc mysql.ResourceDescriptor, action mysql.Action, dryRun, strict bool) (*engine.RunReport, error) {
	logger := s.logger.WithInstance(desc.ServiceName, s.hostName()).WithField("action", string(action))

	ctx, span := s.tel.Tracer.StartConvergeSpan(ctx, desc.ServiceName, string(action), s.hostName())
	defer span.End()

	result, err := s.admit(ctx, desc, action, strict)
	if result != nil {
		for _, v := range result.Violations {
			logger.WithField("policy", v.Policy).WithField("severity", string(v.Severity)).Warn(v.Message)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report, err := s.provider(dryRun).Converge(ctx, desc, action)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.WithError(err).Error("Convergence failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.WithField("changed", report.Changed()).Info("Convergence finished")
	}

	if report != nil && s.journal != nil {
		meta := stores.RunMeta{
			ServiceName: desc.ServiceName,
			Action:      string(action),
			Host:        s.hostName(),
			Descriptor:  desc.WithDefaults().Redacted(),
		}
		if jerr := s.journal.SaveRun(ctx, report, meta, err); jerr != nil {
			logger.WithError(jerr).Warn("Failed to record run in journal")
		}
	}

	if ferr := s.tel.Flush(); ferr != nil {
		logger.WithError(ferr).Warn("Failed to write metrics textfile")
	}

	return report, err
}

func printReport(w io.Writer, report *engine.RunReport) error {
	if jsonOutput {
		return writeJSON(w, report)
	}

	title := fmt.Sprintf("%s run %s", report.Name, report.RunID)
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, infoMsg("%s", title))
	fmt.Fprintln(w, recordsTable(report.Records))

	summary := fmt.Sprintf("%d steps, %d changed, %d collapsed in %s",
		len(report.Records), report.Changed(), report.Collapsed, report.Duration().Round(time.Millisecond))
	if report.Status == engine.RunStatusSucceeded {
		fmt.Fprintln(w, successMsg("%s", summary))
	} else {
		fmt.Fprintln(w, errorMsg("%s: %s", report.Status, summary))
	}
	return nil
}
