package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dbgtoolsrv/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the best-effort command audit trail.",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List recorded commands, newest first.",
	RunE: func(_ *cobra.Command, _ []string) error {
		dataDir := viper.GetString("audit-data")
		if dataDir == "" {
			dataDir = "./data"
		}

		trail, err := audit.Open(filepath.Join(dataDir, "audit.db"), 16, nil)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		defer trail.Close()

		filter := audit.Filter{
			SessionID: viper.GetString("audit-session"),
			State:     viper.GetString("audit-state"),
			Limit:     viper.GetInt("audit-limit"),
		}
		if since := viper.GetDuration("audit-since"); since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		records, err := trail.Query(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("query audit trail: %w", err)
		}

		for _, r := range records {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", r.ID, r.SessionID, r.State, r.QueuedAt.Format(time.RFC3339), r.Text)
		}
		fmt.Printf("%d record(s)\n", len(records))
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditQueryCmd)

	auditQueryCmd.Flags().String("data", "./data", "data directory containing audit.db")
	auditQueryCmd.Flags().String("session", "", "filter by session id")
	auditQueryCmd.Flags().String("state", "", "filter by terminal state (completed, failed, cancelled)")
	auditQueryCmd.Flags().Int("limit", 50, "maximum rows to print")
	auditQueryCmd.Flags().Duration("since", 0, "only rows queued within this long ago, e.g. 1h")

	for flag, key := range map[string]string{
		"data": "audit-data", "session": "audit-session", "state": "audit-state",
		"limit": "audit-limit", "since": "audit-since",
	} {
		if err := viper.BindPFlag(key, auditQueryCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
