// Package tiered implements the Tiered Storage Manager (C3): on-demand
// rehydration of a tenant's database file onto the shared hot-cache
// mount, and the idle-time demotion sweep that evicts it back to the
// object store.
package tiered

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/tenantsqld/tenantsqld/internal/bderrors"
	"github.com/tenantsqld/tenantsqld/internal/metadata"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

// Manager holds the collaborators the tiered cache needs: the hot-cache
// mount root, the primary-region object store, and the tenant directory.
type Manager struct {
	MountRoot string
	Store     objectstore.ObjectStore
	Tenants   metadata.TenantDirectory
	Logger    *slog.Logger
}

func New(mountRoot string, store objectstore.ObjectStore, tenants metadata.TenantDirectory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{MountRoot: mountRoot, Store: store, Tenants: tenants, Logger: logger}
}

// HotPath returns the absolute hot-cache path for a given db key.
func (m *Manager) HotPath(dbKey string) string {
	return filepath.Join(m.MountRoot, dbKey)
}

// RehydrateOptions controls which bucket a rehydration reads from.
type RehydrateOptions struct {
	// PreferReadReplica sources from replica.ReadOnlyBucket instead of
	// replica.PrimaryBucket, the read path's explicit choice.
	PreferReadReplica bool
}

// Rehydrate downloads a tenant's database file onto the hot-cache mount
// and marks the tenant HOT, per SPEC_FULL.md §4.2. Every failing step is
// wrapped as bderrors.RehydrationFailed.
func (m *Manager) Rehydrate(ctx context.Context, tenant *types.Tenant, replica *types.Replica, opts RehydrateOptions) (string, error) {
	dbKey := metadata.ResolveDBPath(tenant, replica)
	if dbKey == "" {
		return "", bderrors.RehydrationFailed(fmt.Errorf("tenant %s: no resolvable db path", tenant.TenantID))
	}

	target := m.HotPath(dbKey)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", bderrors.RehydrationFailed(fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err))
	}

	// Guard against two processes racing the same tenant's rehydration:
	// the hot-cache mount is shared, so the lock must be a real file lock,
	// not an in-process mutex.
	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return "", bderrors.RehydrationFailed(fmt.Errorf("acquire rehydration lock for %s: %w", target, err))
	}
	if !locked {
		return "", bderrors.RehydrationFailed(fmt.Errorf("rehydration already in progress for %s", target))
	}
	defer lock.Unlock()

	// Another process may have rehydrated while we waited for the lock.
	if _, err := os.Stat(target); err == nil {
		now := time.Now().UTC()
		if err := m.Tenants.MarkHot(ctx, tenant.TenantID, now, dbKey); err != nil {
			return "", bderrors.RehydrationFailed(fmt.Errorf("mark tenant %s hot: %w", tenant.TenantID, err))
		}
		return target, nil
	}

	bucket := replica.PrimaryBucket
	if opts.PreferReadReplica {
		bucket = replica.ReadOnlyBucket
	}

	tmp := target + ".tmp-" + time.Now().UTC().Format("20060102T150405.000000000")
	if err := m.Store.GetToFile(ctx, bucket, dbKey, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", bderrors.RehydrationFailed(fmt.Errorf("download %s/%s: %w", bucket, dbKey, err))
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", bderrors.RehydrationFailed(fmt.Errorf("rename into place %s: %w", target, err))
	}

	if _, err := os.Stat(target); err != nil {
		return "", bderrors.RehydrationFailed(fmt.Errorf("stat %s after rehydrate: %w", target, err))
	}

	now := time.Now().UTC()
	if err := m.Tenants.MarkHot(ctx, tenant.TenantID, now, dbKey); err != nil {
		return "", bderrors.RehydrationFailed(fmt.Errorf("mark tenant %s hot: %w", tenant.TenantID, err))
	}

	return target, nil
}

// RunDemotionSweep evicts every HOT tenant idle since before cutoff
// (now minus the configured cold threshold), uploading its hot-cache
// file back to the primary bucket before removing the local copy.
func (m *Manager) RunDemotionSweep(ctx context.Context, replicas metadata.ReplicaDirectory, now time.Time, coldThreshold time.Duration) {
	cutoff := now.Add(-coldThreshold)
	idle, err := m.Tenants.ListHotIdleSince(ctx, cutoff)
	if err != nil {
		m.Logger.Error("demotion sweep: list hot idle tenants", "error", err)
		return
	}

	for _, t := range idle {
		m.demoteOne(ctx, replicas, t, now)
	}
}

func (m *Manager) demoteOne(ctx context.Context, replicas metadata.ReplicaDirectory, t *types.Tenant, now time.Time) {
	replica, err := replicas.Load(ctx, t.TenantID)
	if err != nil {
		m.Logger.Warn("demotion sweep: no replica record, skipping", "tenant_id", t.TenantID, "error", err)
		return
	}

	dbKey := metadata.ResolveDBPath(t, replica)
	if dbKey == "" {
		m.Logger.Warn("demotion sweep: unresolved db path, skipping", "tenant_id", t.TenantID)
		return
	}

	hotPath := m.HotPath(dbKey)
	if _, err := os.Stat(hotPath); err != nil {
		if os.IsNotExist(err) {
			// Nothing local to demote; just flip the tier bookkeeping.
			if err := m.Tenants.MarkDemoted(ctx, t.TenantID, now); err != nil {
				m.Logger.Error("demotion sweep: mark demoted", "tenant_id", t.TenantID, "error", err)
			}
			return
		}
		m.Logger.Error("demotion sweep: stat hot file", "tenant_id", t.TenantID, "error", err)
		return
	}

	// Hold the same lock Rehydrate uses so a demotion can't snatch the file
	// out from under a concurrent rehydration (or vice versa).
	lock := flock.New(hotPath + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		m.Logger.Error("demotion sweep: acquire lock", "tenant_id", t.TenantID, "error", err)
		return
	}
	if !locked {
		m.Logger.Warn("demotion sweep: file locked, skipping this cycle", "tenant_id", t.TenantID)
		return
	}
	defer lock.Unlock()

	if err := m.Store.PutFile(ctx, replica.PrimaryBucket, dbKey, hotPath); err != nil {
		m.Logger.Error("demotion sweep: upload to primary bucket, aborting this tenant", "tenant_id", t.TenantID, "error", err)
		return
	}

	if err := os.Remove(hotPath); err != nil {
		m.Logger.Warn("demotion sweep: remove hot-cache file", "tenant_id", t.TenantID, "error", err)
	}

	if err := m.Tenants.MarkDemoted(ctx, t.TenantID, now); err != nil {
		m.Logger.Error("demotion sweep: mark demoted", "tenant_id", t.TenantID, "error", err)
	}
}
