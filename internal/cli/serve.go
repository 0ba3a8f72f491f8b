package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func ServeCmd() *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server and the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := Bootstrap(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := &http.Server{
				Addr:              app.Config.Server.Address,
				Handler:           app.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
			}

			app.Log.Info("patientbot starting",
				zap.String("addr", srv.Addr),
				zap.Duration("interval", app.Config.Scheduler.Interval),
				zap.Int("batch", app.Config.Scheduler.BatchSize),
				zap.Bool("redis", app.Config.Redis.Enabled),
				zap.String("store", app.Config.Database.Driver),
				zap.Bool("worker", !noWorker),
			)

			if !noWorker {
				app.Schedulers.Start()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				app.Log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				app.Schedulers.Stop()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve webhooks only; run the queue worker separately")
	return cmd
}
