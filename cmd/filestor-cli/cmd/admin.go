// =============================================================================
// ADMIN COMMANDS - MAINTENANCE OPERATIONS
// =============================================================================
//
// COMMANDS:
//   filestor-cli admin pause               Gate dispatch for maintenance
//   filestor-cli admin resume              Lift the gate
//   filestor-cli admin disk <idx> <state>  Set a disk's state
//
// =============================================================================

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Maintenance operations",
}

func init() {
	adminCmd.AddCommand(adminPauseCmd)
	adminCmd.AddCommand(adminResumeCmd)
	adminCmd.AddCommand(adminDiskCmd)
}

var adminPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause dispatch; waits for in-flight operations to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.PostJSON("/filestor/pause", nil, nil); err != nil {
			return err
		}
		fmt.Println("handler paused")
		return nil
	},
}

var adminResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume dispatch after a pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.PostJSON("/filestor/resume", nil, nil); err != nil {
			return err
		}
		fmt.Println("handler resumed")
		return nil
	},
}

var adminDiskCmd = &cobra.Command{
	Use:   "disk <index> <OPEN|CLOSED|DISABLED_BY_MAINTENANCE>",
	Short: "Set a disk's state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("disk index must be a number, got %q", args[0])
		}
		req := map[string]string{"state": args[1]}
		if err := client.PutJSON("/filestor/disks/"+args[0]+"/state", req, nil); err != nil {
			return err
		}
		fmt.Printf("disk %s -> %s\n", args[0], args[1])
		return nil
	},
}
