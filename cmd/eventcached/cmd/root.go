package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eventcached",
	Short: "Event cache core for Q-SYS control monitoring",
	Long: `eventcached hosts the in-memory, tiered-compression event cache that
sits behind a Q-SYS control change feed: it ingests control change batches,
answers range and aggregation queries, spills cold events to disk, and
exposes health and Prometheus metrics.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	version = "dev"
	commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("eventcached %s (%s)\n", version, commit)
	},
}
