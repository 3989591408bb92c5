package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/config"
	"github.com/openfroyo/mysql-service/pkg/mysql"
	"github.com/openfroyo/mysql-service/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		flags       convergeFlags
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run create whenever the descriptor changes",
		Long: `Watch converges the instance once, then runs the create action again
each time the descriptor file is written. Policy files in the --policy
directory are reloaded as they change.

Runs never overlap; changes arriving during a run trigger one more run.`,
		Example: `  mysql-service watch -d app1.yaml --metrics-addr :9104`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Telemetry.Metrics.Enabled = true
				cfg.Telemetry.Metrics.ListenAddress = metricsAddr
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, sessionOptions{host: true, journal: true})
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			if err := s.tel.Metrics.StartMetricsServer(ctx, s.logger); err != nil {
				return err
			}

			if cfg.Policy.Dir != "" {
				loader := policy.NewLoader(s.tel.Logger.NewComponentLogger("policy-loader").Zerolog())
				err := loader.Watch(ctx, []string{cfg.Policy.Dir}, func(p []policy.Policy) error {
					return s.policies.Replace(ctx, p)
				})
				if err != nil {
					return err
				}
				defer loader.StopWatching()
			}

			return watchDescriptor(ctx, s, &flags, debounce, func() {
				fmt.Fprintln(cmd.OutOrStdout(), infoMsg("Watching %s", flags.descriptor))
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a change triggers a run")

	return cmd
}

// watchDescriptor converges once and again after every change to the
// descriptor file, until ctx is cancelled. ready is called once the
// watcher is in place.
func watchDescriptor(ctx context.Context, s *session, flags *convergeFlags, debounce time.Duration, ready func()) error {
	path, err := filepath.Abs(flags.descriptor)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	converge := func() {
		desc, err := config.LoadDescriptor(path, flags.name)
		if err != nil {
			s.logger.WithError(err).Error("Failed to load descriptor")
			return
		}
		// Failures are logged and journaled; the next change retries.
		_, _ = runConverge(ctx, s, desc, mysql.ActionCreate, flags.dryRun, flags.strict)
	}

	if ready != nil {
		ready()
	}
	converge()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.WithField("op", event.Op.String()).Debug("Descriptor changed")
			timer.Reset(debounce)

		case <-timer.C:
			converge()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Watcher error")
		}
	}
}
