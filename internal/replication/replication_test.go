package replication

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantsqld/tenantsqld/internal/objectstore/memstore"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

// putBytes seeds bucket/key in store via a scratch file, since
// memstore.Store only exposes PutFile (matching the real S3-backed
// ObjectStore's file-oriented surface).
func putBytes(t *testing.T, store *memstore.Store, bucket, key string, data []byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.db")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, store.PutFile(context.Background(), bucket, key, path))
}

// Property 7: for every successful write, there exists a bounded t' >= t
// such that after t' the standby bucket's db_path contains the
// post-write snapshot bytes. Here the fan-out worker's single run is
// that bound: one HandleMessage call mirrors the snapshot immediately.
func TestWorker_HandleMessage_Property7_MirrorsSnapshotToStandby(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	snapshot := []byte("snapshot-bytes-for-t-1")
	putBytes(t, store, "primary-bucket", "replication_snapshots/t-1_snapshot_x.db", snapshot)

	worker := &Worker{Store: store, ScratchDir: t.TempDir()}
	event := types.ReplicationEvent{
		TenantID:       "t-1",
		TenantName:     "Tandon",
		SnapshotBucket: "primary-bucket",
		SnapshotS3Key:  "replication_snapshots/t-1_snapshot_x.db",
		StandbyBucket:  "standby-bucket",
		DBPath:         "tenants/t-1.db",
		Timestamp:      time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, worker.HandleMessage(ctx, body))

	mirrored, ok := store.Bytes("standby-bucket", "tenants/t-1.db")
	require.True(t, ok)
	assert.Equal(t, snapshot, mirrored)
}

// An SNS-over-SQS envelope (event JSON nested under "Message") is
// unwrapped identically to a raw event payload.
func TestWorker_HandleMessage_UnwrapsSNSEnvelope(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	snapshot := []byte("snapshot-bytes")
	putBytes(t, store, "primary-bucket", "replication_snapshots/t-1_snapshot_y.db", snapshot)

	event := types.ReplicationEvent{
		TenantID:       "t-1",
		SnapshotBucket: "primary-bucket",
		SnapshotS3Key:  "replication_snapshots/t-1_snapshot_y.db",
		StandbyBucket:  "standby-bucket",
		DBPath:         "tenants/t-1.db",
	}
	inner, err := json.Marshal(event)
	require.NoError(t, err)
	env := envelope{Message: string(inner)}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	worker := &Worker{Store: store, ScratchDir: t.TempDir()}
	require.NoError(t, worker.HandleMessage(ctx, body))

	mirrored, ok := store.Bytes("standby-bucket", "tenants/t-1.db")
	require.True(t, ok)
	assert.Equal(t, snapshot, mirrored)
}

func TestWorker_HandleMessage_MissingSnapshotReturnsErrorForRedelivery(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	event := types.ReplicationEvent{TenantID: "t-1", SnapshotBucket: "primary-bucket", SnapshotS3Key: "missing.db", StandbyBucket: "standby-bucket", DBPath: "tenants/t-1.db"}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	worker := &Worker{Store: store, ScratchDir: t.TempDir()}
	err = worker.HandleMessage(ctx, body)
	assert.Error(t, err)
}
