// Package writepipeline implements the Write Pipeline (C5): serialize a
// write against the tenant's primary copy, snapshot it, upload both,
// publish a replication event, and invalidate the query cache.
package writepipeline

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tenantsqld/tenantsqld/internal/bderrors"
	"github.com/tenantsqld/tenantsqld/internal/bus"
	"github.com/tenantsqld/tenantsqld/internal/enginedb"
	"github.com/tenantsqld/tenantsqld/internal/metadata"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/querycache"
	"github.com/tenantsqld/tenantsqld/internal/tiered"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

const snapshotTimeLayout = "20060102_150405"

// Result is the outcome of a successful write, enough to populate the
// §6 response envelope.
type Result struct {
	RowsAffected    int64
	SnapshotCreated string
	SnapshotS3Key   string
	LastUpdatedAt   time.Time
	StorageTier     string
	DBSource        string
}

// Pipeline is the C5 collaborator set.
type Pipeline struct {
	Tenants    metadata.TenantDirectory
	Replicas   metadata.ReplicaDirectory
	Store      objectstore.ObjectStore
	Tiered     *tiered.Manager
	Cache      querycache.Cache
	Publisher  bus.Publisher
	TopicARN   string
	ScratchDir string
	Logger     *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Execute runs the full write/commit/snapshot/replicate sequence, in the
// literal step order SPEC_FULL.md §4.4 specifies. Earlier side effects
// (an uploaded primary file, an uploaded snapshot) are never rolled back
// on a later failure.
func (p *Pipeline) Execute(ctx context.Context, req types.WriteRequest) (*Result, error) {
	tenant, err := p.Tenants.FindByName(ctx, req.TenantName)
	if err != nil {
		return nil, bderrors.NotFound(fmt.Sprintf("tenant %q not found", req.TenantName))
	}

	if subtle.ConstantTimeCompare([]byte(tenant.APIKey), []byte(req.APIKey)) != 1 {
		return nil, bderrors.AuthFailed()
	}

	replica, err := p.Replicas.Load(ctx, tenant.TenantID)
	if err != nil {
		return nil, bderrors.NotFound(fmt.Sprintf("no replica record for tenant %q", req.TenantName))
	}
	if replica.PrimaryBucket == "" {
		return nil, bderrors.NotFound("tenant has no primary bucket")
	}

	dbKey := metadata.ResolveDBPath(tenant, replica)
	if dbKey == "" {
		return nil, bderrors.NotFound("tenant has no resolvable db path")
	}

	now := time.Now().UTC()
	if err := p.Tenants.TouchAccess(ctx, tenant.TenantID, now); err != nil {
		p.logger().Warn("touch access failed", "tenant_id", tenant.TenantID, "error", err)
	}

	// Step 2: select working path.
	workingPath, cleanupWorking, err := p.resolveWorkingPath(ctx, tenant, replica, dbKey)
	if err != nil {
		return nil, err
	}
	defer cleanupWorking()

	// Step 3: open, execute, commit.
	db, err := enginedb.Open(workingPath)
	if err != nil {
		return nil, bderrors.StorageFailed("open working database", err)
	}
	defer db.Close()

	rowsAffected, err := db.ExecWrite(ctx, req.SQLQuery)
	if err != nil {
		return nil, bderrors.QueryFailed(err)
	}

	// Step 4: snapshot.
	snapshotName := fmt.Sprintf("%s_snapshot_%s.db", tenant.TenantID, now.Format(snapshotTimeLayout))
	snapshotPath := filepath.Join(p.scratchDir(), snapshotName+"."+uuid.NewString())
	defer func() { _ = os.Remove(snapshotPath) }()

	if err := db.SnapshotTo(ctx, snapshotPath); err != nil {
		return nil, bderrors.StorageFailed("snapshot working database", err)
	}

	// Step 5: upload working file back to primary bucket.
	if err := p.Store.PutFile(ctx, replica.PrimaryBucket, dbKey, workingPath); err != nil {
		return nil, bderrors.StorageFailed("upload working database to primary bucket", err)
	}

	// Step 6: upload snapshot.
	snapshotKey := fmt.Sprintf("replication_snapshots/%s", snapshotName)
	if err := p.Store.PutFile(ctx, replica.PrimaryBucket, snapshotKey, snapshotPath); err != nil {
		return nil, bderrors.StorageFailed("upload snapshot to primary bucket", err)
	}

	// Step 7: publish replication event, only after step 6 succeeds.
	event := types.ReplicationEvent{
		TenantName:     tenant.TenantName,
		TenantID:       tenant.TenantID,
		SnapshotBucket: replica.PrimaryBucket,
		SnapshotS3Key:  snapshotKey,
		SnapshotFile:   snapshotName,
		PrimaryBucket:  replica.PrimaryBucket,
		DBPath:         dbKey,
		ReadOnlyBucket: replica.ReadOnlyBucket,
		StandbyBucket:  replica.StandbyBucket,
		Timestamp:      now,
		RowsAffected:   rowsAffected,
		StorageTier:    string(tenant.StorageTier),
		DBSource:       dbSourceFor(tenant),
	}
	if err := publishEvent(ctx, p.Publisher, p.TopicARN, event); err != nil {
		p.logger().Error("publish replication event failed", "tenant_id", tenant.TenantID, "error", err)
	}

	// Step 8: bump replica last_updated_at — fatal on failure.
	if err := p.Replicas.BumpUpdated(ctx, tenant.TenantID, now); err != nil {
		return nil, bderrors.StorageFailed("bump replica last_updated_at", err)
	}

	// Step 9: invalidate query cache — failure logged, not fatal.
	if _, err := p.Cache.IncrVersion(ctx, tenant.TenantID); err != nil {
		p.logger().Warn("cache version bump failed", "tenant_id", tenant.TenantID, "error", err)
	}

	return &Result{
		RowsAffected:    rowsAffected,
		SnapshotCreated: snapshotName,
		SnapshotS3Key:   snapshotKey,
		LastUpdatedAt:   now,
		StorageTier:     string(tenant.StorageTier),
		DBSource:        dbSourceFor(tenant),
	}, nil
}

// resolveWorkingPath picks the hot-cache file in place when the tenant
// is HOT and it's present (rehydrating from primary first if absent),
// otherwise downloads a scoped temp copy. The returned cleanup always
// removes only files this call created, never the hot-cache file.
func (p *Pipeline) resolveWorkingPath(ctx context.Context, tenant *types.Tenant, replica *types.Replica, dbKey string) (string, func(), error) {
	noop := func() {}

	if tenant.StorageTier == types.TierHot {
		hotPath := p.Tiered.HotPath(dbKey)
		if _, err := os.Stat(hotPath); err == nil {
			return hotPath, noop, nil
		}
		path, err := p.Tiered.Rehydrate(ctx, tenant, replica, tiered.RehydrateOptions{})
		if err == nil {
			return path, noop, nil
		}
		p.logger().Warn("rehydrate-on-write failed, falling back to temp copy", "tenant_id", tenant.TenantID, "error", err)
	}

	tmp, err := os.CreateTemp(p.scratchDir(), "tenantsqld-write-*.db")
	if err != nil {
		return "", noop, bderrors.StorageFailed("create scratch working file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := p.Store.GetToFile(ctx, replica.PrimaryBucket, dbKey, tmpPath); err != nil {
		cleanup()
		return "", noop, bderrors.StorageFailed(fmt.Sprintf("download %s/%s", replica.PrimaryBucket, dbKey), err)
	}

	return tmpPath, cleanup, nil
}

func (p *Pipeline) scratchDir() string {
	if p.ScratchDir != "" {
		return p.ScratchDir
	}
	return os.TempDir()
}

func dbSourceFor(tenant *types.Tenant) string {
	if tenant.StorageTier == types.TierHot {
		return types.DBSourceEFS
	}
	return types.DBSourceS3Primary
}

func publishEvent(ctx context.Context, publisher bus.Publisher, topicARN string, event types.ReplicationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal replication event: %w", err)
	}
	return publisher.Publish(ctx, topicARN, body)
}
