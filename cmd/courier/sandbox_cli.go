package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/sandbox"
	"github.com/foxzi/courier/internal/storage"
)

var (
	sandboxChannel    string
	sandboxMode       string
	sandboxCampaignID string
	sandboxListLimit  int
	sandboxClearDays  int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Sandbox message commands",
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages captured in sandbox or redirect mode",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show sandbox message details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear sandbox messages",
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sandbox statistics",
	RunE:  runSandboxStats,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Filter by channel (email, sms, whatsapp)")
	sandboxListCmd.Flags().StringVar(&sandboxMode, "mode", "", "Filter by mode (sandbox, redirect)")
	sandboxListCmd.Flags().StringVar(&sandboxCampaignID, "campaign", "", "Filter by campaign id")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")

	sandboxClearCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Clear only for specific channel")
	sandboxClearCmd.Flags().IntVar(&sandboxClearDays, "older-than", 0, "Clear messages older than N days")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandboxStorage() (*sandbox.Storage, *bolt.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}

	st, err := sandbox.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create sandbox storage: %w", err)
	}

	return st, db, nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	st, db, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer db.Close()

	messages, err := st.List(context.Background(), sandbox.ListFilter{
		Channel:    sandboxChannel,
		Mode:       sandboxMode,
		CampaignID: sandboxCampaignID,
		Limit:      sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tMODE\tTO\tSUBJECT\tCAPTURED")
	fmt.Fprintln(w, "--\t-------\t----\t--\t-------\t--------")

	for _, msg := range messages {
		subject := msg.Subject
		if subject == "" {
			subject = msg.Body
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(msg.ID),
			msg.Channel,
			msg.Mode,
			truncate(msg.To, 30),
			truncate(strings.ReplaceAll(subject, "\n", " "), 30),
			msg.CapturedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d messages\n", len(messages))

	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	st, db, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer db.Close()

	msg, err := st.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	fmt.Printf("Message: %s\n\n", msg.ID)
	fmt.Printf("Channel:  %s\n", msg.Channel)
	fmt.Printf("Mode:     %s\n", msg.Mode)
	fmt.Printf("To:       %s\n", msg.To)
	if msg.OriginalTo != "" {
		fmt.Printf("Original: %s\n", msg.OriginalTo)
	}
	if msg.Name != "" {
		fmt.Printf("Name:     %s\n", msg.Name)
	}
	fmt.Printf("Captured: %s\n", msg.CapturedAt.Format(time.RFC3339))
	if msg.SimulatedErr != "" {
		fmt.Printf("Error:    %s (simulated)\n", msg.SimulatedErr)
	}
	for k, v := range msg.Tags {
		fmt.Printf("Tag:      %s=%s\n", k, v)
	}
	if msg.Subject != "" {
		fmt.Printf("\nSubject: %s\n", msg.Subject)
	}
	fmt.Printf("\n%s\n", msg.Body)

	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	st, db, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer db.Close()

	olderThan := time.Duration(sandboxClearDays) * 24 * time.Hour

	count, err := st.Clear(context.Background(), sandboxChannel, olderThan)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	fmt.Printf("Cleared %d messages\n", count)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	st, db, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Sandbox Statistics\n\n")
	fmt.Printf("Total messages: %d\n", stats.Total)

	if len(stats.ByChannel) > 0 {
		fmt.Printf("\nBy channel:\n")
		for ch, n := range stats.ByChannel {
			fmt.Printf("  %s: %d\n", ch, n)
		}
	}
	if len(stats.ByMode) > 0 {
		fmt.Printf("\nBy mode:\n")
		for mode, n := range stats.ByMode {
			fmt.Printf("  %s: %d\n", mode, n)
		}
	}
	if stats.Total > 0 {
		fmt.Printf("\nOldest: %s\n", stats.OldestAt.Format(time.RFC3339))
		fmt.Printf("Newest: %s\n", stats.NewestAt.Format(time.RFC3339))
	}

	return nil
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
