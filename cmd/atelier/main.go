package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glowworks/atelier/cmd/atelier/commands"
	"github.com/glowworks/atelier/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier - marketing image production pipeline",
	Long: `Atelier drives an image render backend to produce marketing
imagery in batches: reference images dropped into the input directory
are claimed, prompted, rendered, post-processed, and archived, with
every outcome recorded in the execution log.

Examples:
  atelier run                      # Process everything in the input directory
  atelier run --watch              # Keep watching for new input files
  atelier generate "neon portrait" # One-shot render from a prompt
  atelier db stats                 # Execution log statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity)
		if err := logger.InitializeWithLevel(jsonLogs, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.GenerateCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
