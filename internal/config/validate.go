// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// Validation is fail-fast at startup and accumulates every problem before
// returning, so the operator fixes the whole file in one pass instead of
// replaying the start-fix-start loop once per mistake.
//
// =============================================================================

package config

import (
	"fmt"
	"strings"

	"filestor/internal/document"
)

// ValidationError collects every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the whole config and returns a ValidationError listing
// every problem, or nil.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if c.Node.DiskCount < 1 {
		verr.add("node.disk_count must be at least 1, got %d", c.Node.DiskCount)
	}
	if c.Node.StripesPerDisk < 1 {
		verr.add("node.stripes_per_disk must be at least 1, got %d", c.Node.StripesPerDisk)
	}
	if c.Node.WorkersPerDisk < 1 {
		verr.add("node.workers_per_disk must be at least 1, got %d", c.Node.WorkersPerDisk)
	}
	if c.Node.StripesPerDisk > 0 && c.Node.WorkersPerDisk > c.Node.StripesPerDisk {
		verr.add("node.workers_per_disk (%d) exceeds node.stripes_per_disk (%d); extra workers only contend",
			c.Node.WorkersPerDisk, c.Node.StripesPerDisk)
	}
	if c.Node.DocumentUsedBits < 1 || c.Node.DocumentUsedBits > document.MaxUsedBits {
		verr.add("node.document_used_bits must be in [1, %d], got %d",
			document.MaxUsedBits, c.Node.DocumentUsedBits)
	}
	if c.Node.GetNextMessageTimeoutMs < 1 {
		verr.add("node.get_next_message_timeout_ms must be at least 1, got %d",
			c.Node.GetNextMessageTimeoutMs)
	}
	if c.Node.MetricsUpdateIntervalMs < 100 {
		verr.add("node.metrics_update_interval_ms must be at least 100, got %d",
			c.Node.MetricsUpdateIntervalMs)
	}

	if c.HTTP.Addr == "" {
		verr.add("http.addr must not be empty")
	}
	for _, tc := range []struct {
		name  string
		value int
	}{
		{"http.read_timeout_ms", c.HTTP.ReadTimeoutMs},
		{"http.write_timeout_ms", c.HTTP.WriteTimeoutMs},
		{"http.idle_timeout_ms", c.HTTP.IdleTimeoutMs},
	} {
		if tc.value < 0 {
			verr.add("%s must not be negative, got %d", tc.name, tc.value)
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}
