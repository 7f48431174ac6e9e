// =============================================================================
// DOC COMMANDS - SCHEDULE DOCUMENT OPERATIONS
// =============================================================================
//
// COMMANDS:
//   filestor-cli doc put <id> -d <payload>    Schedule a put
//   filestor-cli doc get <id>                 Schedule a get
//   filestor-cli doc remove <id>              Schedule a remove
//
// The node answers with the message id, the bucket the document hashed to
// and the disk it was queued on.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	docPayload  string
	docPriority uint8
	docTimeout  int
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Schedule document operations",
}

func init() {
	docCmd.PersistentFlags().Uint8VarP(&docPriority, "priority", "p", 120,
		"dispatch priority (lower runs first)")
	docCmd.PersistentFlags().IntVar(&docTimeout, "queue-timeout-ms", 0,
		"per-message queue timeout in milliseconds (0 = server default)")
	docPutCmd.Flags().StringVarP(&docPayload, "data", "d", "", "document payload")

	docCmd.AddCommand(docPutCmd)
	docCmd.AddCommand(docGetCmd)
	docCmd.AddCommand(docRemoveCmd)
}

func scheduleDoc(op, id string) error {
	req := map[string]any{
		"op":       op,
		"id":       id,
		"priority": docPriority,
	}
	if docPayload != "" {
		req["payload"] = docPayload
	}
	if docTimeout > 0 {
		req["timeout_ms"] = docTimeout
	}

	var resp struct {
		MsgID  uint64 `json:"msg_id"`
		Bucket string `json:"bucket"`
		Disk   int    `json:"disk"`
	}
	if err := client.PostJSON("/documents", req, &resp); err != nil {
		return err
	}
	fmt.Printf("scheduled %s msg_id=%d bucket=%s disk=%d\n", op, resp.MsgID, resp.Bucket, resp.Disk)
	return nil
}

var docPutCmd = &cobra.Command{
	Use:   "put <document-id>",
	Short: "Schedule a put",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleDoc("put", args[0])
	},
}

var docGetCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Schedule a get",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleDoc("get", args[0])
	},
}

var docRemoveCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Schedule a remove",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleDoc("remove", args[0])
	},
}
