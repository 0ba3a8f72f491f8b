package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/patient-messaging/internal/model"
	"github.com/LeventeLantos/patient-messaging/internal/queue"
)

func QueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the outbound message queue",
	}
	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queueListCmd())
	return cmd
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.Repos.Queue.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load queue stats: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			app, err := Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			msgs, err := app.Repos.Queue.List(cmd.Context(), model.Status(status), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}
			printEntries(cmd.OutOrStdout(), msgs)
			return nil
		},
	}

	cmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	cmd.Flags().Int("limit", 20, "maximum entries to show")
	cmd.Flags().Int("offset", 0, "entries to skip")
	return cmd
}

func statusColor(s model.Status) *color.Color {
	switch s {
	case model.Completed:
		return color.New(color.FgGreen)
	case model.Failed:
		return color.New(color.FgRed)
	case model.Processing:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printStats(w io.Writer, stats map[model.Status]int) {
	statuses := []model.Status{model.Pending, model.Processing, model.Completed, model.Failed}
	total := 0
	for _, s := range statuses {
		n := stats[s]
		total += n
		fmt.Fprintf(w, "  %-12s %s\n", s, statusColor(s).Sprint(n))
	}
	fmt.Fprintf(w, "  %-12s %d\n", "total", total)
}

func printEntries(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("(no entries)"))
		return
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })

	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %-10s  %-7s  %-17s  %s  retries=%d/%d\n",
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			statusColor(m.Status).Sprint(m.Status),
			m.Priority,
			m.MessageType,
			m.RecipientPhone,
			m.RetryCount, m.MaxRetries,
		)
		if m.LastError != nil && *m.LastError != "" {
			fmt.Fprintf(w, "    %s %s\n", color.New(color.FgRed).Sprint("error:"), oneLine(*m.LastError))
		}
	}
}

func printBatch(w io.Writer, st queue.Stats) {
	fmt.Fprintf(w, "claimed=%d sent=%s retried=%s failed=%s released=%d\n",
		st.Claimed,
		color.New(color.FgGreen).Sprint(st.Sent),
		color.New(color.FgYellow).Sprint(st.Retried),
		color.New(color.FgRed).Sprint(st.Failed),
		st.Released,
	)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
