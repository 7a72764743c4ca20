// Command tenantsqld is the tenant data-plane process: it serves the
// JSON read/write HTTP adapter, and (via subcommands) the out-of-band
// demotion sweep, replication fan-out consumer, and migration worker
// consumer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tenantsqld",
	Short: "Multi-tenant embedded-SQL database service",
	Long: `tenantsqld serves per-tenant embedded SQL databases out of a
tiered cache (a shared hot-cache mount backed by a durable object
store), keeping a primary bucket, a same-region read-replica bucket,
and a cross-region standby bucket consistent after every write, and
applying schema migrations across all three.`,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateWorkerCmd, replicateWorkerCmd, demoteOnceCmd, migrateSchemaCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
