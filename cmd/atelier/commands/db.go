package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glowworks/atelier/config"
	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/pipeline"
)

// DbCmd groups execution log maintenance commands.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the execution log database",
	Long: `Manage the execution log database.

Examples:
  atelier db migrate    # Apply pending schema migrations
  atelier db stats      # Execution counts by status
  atelier db pending    # List executions still awaiting resolution`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show execution log statistics",
	RunE:  runDbStats,
}

var dbPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List executions still awaiting terminal resolution",
	RunE:  runDbPending,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbPendingCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("database schema is up to date")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rows, err := database.Query(`SELECT status, COUNT(*) FROM image_logs GROUP BY status ORDER BY status`)
	if err != nil {
		return errors.Wrap(err, "querying execution counts")
	}
	defer rows.Close()

	fmt.Printf("Execution Log Statistics\n")
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)

	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return errors.Wrap(err, "scanning execution counts")
		}
		fmt.Printf("  %-10s %d\n", status, count)
		total += count
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Printf("  %-10s %d\n", "total", total)
	return nil
}

func runDbPending(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	pending, err := pipeline.NewStore(database).ListPending()
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Println("no pending executions")
		return nil
	}

	for _, rec := range pending {
		fmt.Printf("%s  %s  persona=%s  %s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.ExecutionID,
			rec.Persona,
			rec.Prompt,
		)
	}
	return nil
}
