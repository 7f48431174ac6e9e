// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// GLOBAL FLAGS:
//   --server, -s    Node admin URL (default: http://localhost:8080)
//   --timeout       Request timeout in seconds (default: 30)
//
// SUBCOMMANDS:
//   status      Dispatch core status (text)
//   stats       Queue/lock/merge counters (JSON)
//   doc         Schedule document operations
//   admin       Pause/resume and disk state
//   version     Show version information
//
// =============================================================================

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"filestor/internal/cli"
)

var (
	serverFlag  string
	timeoutFlag int

	client *cli.Client
)

var rootCmd = &cobra.Command{
	Use:   "filestor-cli",
	Short: "Command-line interface for a filestord storage node",
	Long: `filestor-cli - Operate a filestord node from the command line.

The CLI talks to the node's admin HTTP API: inspect the dispatch queues and
bucket locks, schedule document operations in standalone mode, and drive
maintenance (pause/resume, disk states).`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = cli.NewClient(serverFlag, time.Duration(timeoutFlag)*time.Second)
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s",
		"http://localhost:8080", "node admin URL")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 30,
		"request timeout in seconds")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}
