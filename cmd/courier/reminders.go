package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/app"
	"github.com/foxzi/courier/internal/reminder"
	"github.com/foxzi/courier/internal/storage"
)

var remindersClearAll bool

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Payment reminder commands",
}

var remindersStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger entries per tier",
	RunE:  runRemindersStats,
}

var remindersLedgerCmd = &cobra.Command{
	Use:   "ledger [invoice_id]",
	Short: "Show the reminder ledger, optionally for one invoice",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRemindersLedger,
}

var remindersClearCmd = &cobra.Command{
	Use:   "clear [invoice_id]",
	Short: "Remove ledger entries so tiers can be sent again",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRemindersClear,
}

var remindersTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one reminder scan now",
	Long: `Run one reminder scan with the configured directory and channels.
Do not run while "courier serve" holds the database.`,
	RunE: runRemindersTrigger,
}

func init() {
	remindersClearCmd.Flags().BoolVar(&remindersClearAll, "all", false, "Clear the ledger of every invoice")

	remindersCmd.AddCommand(remindersStatsCmd, remindersLedgerCmd, remindersClearCmd, remindersTriggerCmd)
	rootCmd.AddCommand(remindersCmd)
}

func openLedger() (*reminder.Ledger, *bolt.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}

	ledger, err := reminder.NewLedger(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to open reminder ledger: %w", err)
	}

	return ledger, db, nil
}

func runRemindersStats(cmd *cobra.Command, args []string) error {
	ledger, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := ledger.CountByTier(context.Background())
	if err != nil {
		return fmt.Errorf("failed to count ledger entries: %w", err)
	}

	tiers := make([]string, 0, len(counts))
	total := 0
	for tier, n := range counts {
		tiers = append(tiers, tier)
		total += n
	}
	sort.Strings(tiers)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tSENT")
	fmt.Fprintln(w, "----\t----")
	for _, tier := range tiers {
		fmt.Fprintf(w, "%s\t%d\n", tier, counts[tier])
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", total)

	return nil
}

func runRemindersLedger(cmd *cobra.Command, args []string) error {
	ledger, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	var entries []*reminder.Entry
	if len(args) == 1 {
		entries, err = ledger.Get(ctx, args[0])
	} else {
		entries, err = ledger.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INVOICE\tTIER\tDAYS\tOUTCOME\tSENT\tFAILED\tRESERVED")
	fmt.Fprintln(w, "-------\t----\t----\t-------\t----\t------\t--------")
	for _, e := range entries {
		outcome := e.Outcome
		if e.CompletedAt == nil {
			outcome = "pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			e.InvoiceID, e.Tier, e.Days, outcome, e.Sent, e.Failed,
			e.ReservedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}

func runRemindersClear(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !remindersClearAll {
		return fmt.Errorf("specify an invoice id or --all")
	}

	ledger, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	var n int
	if remindersClearAll {
		n, err = ledger.ClearAll(ctx)
	} else {
		n, err = ledger.Clear(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}

	fmt.Printf("Cleared %d ledger entries\n", n)
	return nil
}

func runRemindersTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	result, err := application.Scheduler().TriggerOnce(context.Background())
	if result != nil {
		fmt.Printf("Scan finished in %s\n", result.Duration)
		fmt.Printf("  Invoices overdue: %d\n", result.Invoices)
		fmt.Printf("  Tiers recorded:   %d\n", result.Recorded)
		fmt.Printf("  Invoices skipped: %d\n", result.Skipped)
	}
	if err != nil {
		return fmt.Errorf("reminder scan failed: %w", err)
	}

	return nil
}
