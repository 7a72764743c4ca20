// Package replication implements the Replication Fan-out Worker (C6):
// consumes a published types.ReplicationEvent and mirrors the snapshot
// into the standby bucket.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

// Worker copies replicated snapshots into the standby-region bucket.
// Store must be a client for the bucket named in the event's
// standby_bucket field (typically the second-region client).
type Worker struct {
	Store      objectstore.ObjectStore
	ScratchDir string
}

// envelope accommodates delivery through an SNS-over-SQS style wrapper,
// where the SNS message itself arrives JSON-encoded inside a "Message"
// field. A raw ReplicationEvent payload is accepted directly.
type envelope struct {
	Message string `json:"Message"`
}

// HandleMessage decodes raw (unwrapping an outer bus envelope if
// present) and mirrors the referenced snapshot into the standby bucket.
// Any error is returned unswallowed so the bus redelivers the message.
func (w *Worker) HandleMessage(ctx context.Context, raw []byte) error {
	event, err := decodeEvent(raw)
	if err != nil {
		return fmt.Errorf("replication: decode event: %w", err)
	}

	tmp, err := os.CreateTemp(w.scratchDir(), "tenantsqld-replicate-*.db")
	if err != nil {
		return fmt.Errorf("replication: create scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := w.Store.GetToFile(ctx, event.SnapshotBucket, event.SnapshotS3Key, tmpPath); err != nil {
		return fmt.Errorf("replication: download %s/%s: %w", event.SnapshotBucket, event.SnapshotS3Key, err)
	}

	if err := w.Store.PutFile(ctx, event.StandbyBucket, event.DBPath, tmpPath); err != nil {
		return fmt.Errorf("replication: upload %s/%s: %w", event.StandbyBucket, event.DBPath, err)
	}

	return nil
}

func (w *Worker) scratchDir() string {
	if w.ScratchDir != "" {
		return w.ScratchDir
	}
	return os.TempDir()
}

func decodeEvent(raw []byte) (*types.ReplicationEvent, error) {
	var event types.ReplicationEvent
	if err := json.Unmarshal(raw, &event); err == nil && event.TenantID != "" {
		return &event, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(env.Message), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
