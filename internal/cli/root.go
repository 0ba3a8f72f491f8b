// Package cli holds the patientbot cobra commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "patientbot",
		Short: "WhatsApp webhook processing and patient conversation engine",
		Long: `patientbot receives patient replies from the WhatsApp providers, applies
verification and reminder confirmations, and delivers queued outbound messages.`,
		SilenceUsage: true,
	}

	root.AddCommand(ServeCmd())
	root.AddCommand(WorkerCmd())
	root.AddCommand(QueueCmd())
	root.AddCommand(MigrateCmd())
	return root
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
