package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func WorkerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the outbound queue worker and housekeeping jobs",
		Long: `Run the background jobs without the HTTP server. Several workers may run
against the same database; each queue entry is claimed by exactly one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := Bootstrap(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if once {
				released, err := app.Worker.ReleaseStale(ctx)
				if err != nil {
					return err
				}
				st, err := app.Worker.RunOnce(ctx)
				if err != nil {
					return err
				}
				st.Released = released
				printBatch(cmd.OutOrStdout(), st)
				return nil
			}

			app.Log.Info("worker starting",
				zap.Duration("interval", app.Config.Scheduler.Interval),
				zap.Int("batch", app.Config.Scheduler.BatchSize),
			)
			app.Schedulers.Start()
			<-ctx.Done()
			app.Log.Info("worker stopping")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	return cmd
}
