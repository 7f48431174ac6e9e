package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the dispatch core status",
	Long: `Fetch the node's plain-text status listing: per-disk and per-stripe
queue depths, every queued entry, held bucket locks and active merges.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := client.GetText("/filestor/status/text")
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue/lock/merge counters as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]any
		if err := client.GetJSON("/stats", &stats); err != nil {
			return err
		}
		pretty, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil
	},
}
