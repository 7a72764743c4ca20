package main

import (
	"context"

	"github.com/spf13/cobra"
)

var replicateWorkerCmd = &cobra.Command{
	Use:   "replicate-worker",
	Short: "Run only the replication fan-out consumer (C6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return runReplicationConsumer(cmd.Context(), a)
	},
}

// runReplicationConsumer long-polls the replication topic's subscribed
// queue and hands each message to the fan-out worker, deleting it only
// on success so a failed mirror is retried at-least-once.
func runReplicationConsumer(ctx context.Context, a *app) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := a.queue.Receive(ctx, a.cfg.ReplicationQueueURL, 10)
		if err != nil {
			a.log.Error("replication consumer: receive failed", "error", err)
			continue
		}

		for _, msg := range msgs {
			if err := a.replicationWkr.HandleMessage(ctx, msg.Body); err != nil {
				a.log.Error("replication consumer: handle message failed, leaving for redelivery", "error", err)
				continue
			}
			if err := a.queue.Delete(ctx, a.cfg.ReplicationQueueURL, msg.ReceiptHandle); err != nil {
				a.log.Warn("replication consumer: delete message failed", "error", err)
			}
		}
	}
}
