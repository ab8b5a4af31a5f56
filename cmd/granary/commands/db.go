package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/granary/config"
	"github.com/corvid-labs/granary/db"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database operations",
	Long: `Manage the Granary SQLite database.

Examples:
  granary db migrate   # Apply pending schema migrations
  granary db stats     # Show queue and index statistics
  granary db cleanup   # Purge old terminal jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Printf("Database %s is up to date\n", cfg.GetDatabasePath())
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var jobCounts []struct {
			status string
			count  int
		}
		rows, err := rt.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status ORDER BY status`)
		if err != nil {
			return errors.Wrap(err, "failed to count jobs")
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			var n int
			if err := rows.Scan(&s, &n); err != nil {
				return errors.Wrap(err, "failed to scan job counts")
			}
			jobCounts = append(jobCounts, struct {
				status string
				count  int
			}{s, n})
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "failed to read job counts")
		}

		var runs int
		if err := rt.db.QueryRow(`SELECT COUNT(*) FROM collection_runs`).Scan(&runs); err != nil {
			return errors.Wrap(err, "failed to count runs")
		}

		stored, err := rt.vectors.Count(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n\n", rt.cfg.GetDatabasePath())
		fmt.Printf("Jobs:\n")
		if len(jobCounts) == 0 {
			fmt.Printf("  (none)\n")
		}
		for _, jc := range jobCounts {
			fmt.Printf("  %-10s %d\n", jc.status, jc.count)
		}
		fmt.Printf("\nCollection runs: %d\n", runs)
		fmt.Printf("Indexed documents: %d\n", stored)
		return nil
	},
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old terminal jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThanHours, _ := cmd.Flags().GetInt("older-than-hours")

		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if olderThanHours <= 0 {
			olderThanHours = rt.cfg.Queue.CleanupAfterHours
		}

		removed, err := rt.store.CleanupOldJobs(time.Duration(olderThanHours) * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d jobs older than %dh\n", removed, olderThanHours)
		return nil
	},
}

func init() {
	dbCleanupCmd.Flags().Int("older-than-hours", 0, "Purge terminal jobs older than this (default from config)")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}
