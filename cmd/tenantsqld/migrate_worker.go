package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tenantsqld/tenantsqld/internal/types"
)

var migrateWorkerCmd = &cobra.Command{
	Use:   "migrate-worker",
	Short: "Run only the schema migration worker consumer (C9)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return runMigrationConsumer(cmd.Context(), a)
	},
}

// runMigrationConsumer drains the FIFO migration queue and applies each
// message's operation list to the referenced tenant database file.
func runMigrationConsumer(ctx context.Context, a *app) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := a.queue.Receive(ctx, a.cfg.MigrationQueueURL, 10)
		if err != nil {
			a.log.Error("migration consumer: receive failed", "error", err)
			continue
		}

		for _, msg := range msgs {
			var decoded types.MigrationMessage
			if err := json.Unmarshal(msg.Body, &decoded); err != nil {
				a.log.Error("migration consumer: decode message failed, leaving for redelivery", "error", err)
				continue
			}
			if err := a.migrationWkr.HandleMessage(ctx, decoded); err != nil {
				a.log.Error("migration consumer: handle message failed, leaving for redelivery",
					"migration_id", decoded.MigrationID, "tenant_id", decoded.TenantID, "error", err)
				continue
			}
			if err := a.queue.Delete(ctx, a.cfg.MigrationQueueURL, msg.ReceiptHandle); err != nil {
				a.log.Warn("migration consumer: delete message failed", "error", err)
			}
		}
	}
}
