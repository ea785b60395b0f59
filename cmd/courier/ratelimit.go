package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/ratelimit"
	"github.com/foxzi/courier/internal/storage"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Rate limit commands",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured send limits and current usage",
	RunE:  runRatelimitShow,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitShowCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func runRatelimitShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl := cfg.RateLimit

	fmt.Println("Rate Limiting Configuration")
	fmt.Println("===========================")
	fmt.Printf("Enabled: %v\n\n", rl.Enabled)

	if !rl.Enabled {
		fmt.Println("Rate limiting is disabled")
		return nil
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	limiter, err := ratelimit.NewLimiter(db, &rl.Config)
	if err != nil {
		return fmt.Errorf("failed to open rate limiter: %w", err)
	}
	defer limiter.Stop()

	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tKEY\tHOUR (USED/LIMIT)\tDAY (USED/LIMIT)")
	fmt.Fprintln(w, "-----\t---\t-----------------\t----------------")

	row := func(level ratelimit.Level, key string, limit *ratelimit.LimitConfig) error {
		stats, err := limiter.GetStats(ctx, level, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%s\t%d/%s\n",
			level, key,
			stats.HourlyCount, limitValue(limit, true),
			stats.DailyCount, limitValue(limit, false),
		)
		return nil
	}

	if err := row(ratelimit.LevelGlobal, "global", rl.Global); err != nil {
		return err
	}
	for _, ch := range channel.All {
		limit := rl.DefaultChannel
		if specific, ok := rl.Channels[string(ch)]; ok {
			limit = specific
		}
		if err := row(ratelimit.LevelChannel, string(ch), limit); err != nil {
			return err
		}
	}
	w.Flush()

	fmt.Println()
	if rl.DefaultRecipient != nil {
		fmt.Printf("Per recipient: %s/hour, %s/day\n", limitValue(rl.DefaultRecipient, true), limitValue(rl.DefaultRecipient, false))
	} else {
		fmt.Println("Per recipient: not configured")
	}

	return nil
}

func limitValue(limit *ratelimit.LimitConfig, hourly bool) string {
	if limit == nil {
		return "-"
	}
	n := limit.MessagesPerDay
	if hourly {
		n = limit.MessagesPerHour
	}
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
