// =============================================================================
// FILESTOR CLI - MAIN ENTRY POINT
// =============================================================================
//
// Operator CLI for a filestord node.
//
// USAGE:
//   filestor-cli [command] [flags]
//
// EXAMPLES:
//   filestor-cli status                          # dispatch core status
//   filestor-cli stats                           # JSON counters
//   filestor-cli doc put id:music:doc::1 -d '.'  # schedule a put
//   filestor-cli admin pause                     # maintenance gate
//   filestor-cli admin disk 0 DISABLED_BY_MAINTENANCE
//
// =============================================================================

package main

import (
	"os"

	"filestor/cmd/filestor-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
