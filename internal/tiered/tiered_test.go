package tiered

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantsqld/tenantsqld/internal/metadata/memory"
	"github.com/tenantsqld/tenantsqld/internal/objectstore/memstore"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

const (
	tenantName = "Tandon"
	tenantID   = "t-1"
	dbKey      = "tenants/t-1.db"
)

func seed(t *testing.T, store *memstore.Store, bucket string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "seed-*.db")
	require.NoError(t, err)
	_, err = f.WriteString("sqlite-fixture-bytes")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.PutFile(context.Background(), bucket, dbKey, f.Name()))
}

// S2: hot read after rehydrate. A tenant marked HOT with a missing
// hot-cache file is rehydrated from the read-only bucket, and the file
// now exists at the hot-cache mount afterward.
func TestManager_Rehydrate_S2_PopulatesHotCacheFromReadReplica(t *testing.T) {
	ctx := context.Background()
	mount := t.TempDir()
	store := memstore.New()
	seed(t, store, "read-bucket")

	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, StorageTier: types.TierHot})

	mgr := New(mount, store, tenants, nil)
	tenant, err := tenants.FindByID(ctx, tenantID)
	require.NoError(t, err)
	replica := &types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", ReadOnlyBucket: "read-bucket", DBPath: dbKey}

	path, err := mgr.Rehydrate(ctx, tenant, replica, RehydrateOptions{PreferReadReplica: true})
	require.NoError(t, err)
	assert.Equal(t, mgr.HotPath(dbKey), path)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	refreshed, err := tenants.FindByID(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, refreshed.StorageTier)
}

// Rehydrate is a no-op re-check, not a re-download, when another process
// already populated the hot-cache file while this call waited on the lock.
func TestManager_Rehydrate_AlreadyPresentSkipsDownload(t *testing.T) {
	ctx := context.Background()
	mount := t.TempDir()
	store := memstore.New()
	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, StorageTier: types.TierHot})

	mgr := New(mount, store, tenants, nil)
	target := mgr.HotPath(dbKey)
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("already-here"), 0o644))

	tenant, err := tenants.FindByID(ctx, tenantID)
	require.NoError(t, err)
	replica := &types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", DBPath: dbKey}

	path, err := mgr.Rehydrate(ctx, tenant, replica, RehydrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, target, path)
	assert.False(t, store.Has("primary-bucket", dbKey), "must not have downloaded since the file was already present")
}

// S4 / property 4: idle demotion. A HOT tenant idle past the threshold
// is demoted: its hot-cache bytes land in the primary bucket, the local
// file is removed, and the tenant becomes COLD with last_demoted_at set.
func TestManager_RunDemotionSweep_S4_DemotesIdleHotTenant(t *testing.T) {
	ctx := context.Background()
	mount := t.TempDir()
	store := memstore.New()
	tenants := memory.NewTenantDirectory()
	replicas := memory.NewReplicaDirectory()

	now := time.Now().UTC()
	tenants.Put(&types.Tenant{
		TenantID:       tenantID,
		TenantName:     tenantName,
		StorageTier:    types.TierHot,
		LastAccessedAt: now.Add(-25 * time.Hour),
	})
	replicas.Put(&types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", DBPath: dbKey})

	mgr := New(mount, store, tenants, nil)
	hotPath := mgr.HotPath(dbKey)
	require.NoError(t, os.MkdirAll(filepath.Dir(hotPath), 0o755))
	require.NoError(t, os.WriteFile(hotPath, []byte("hot-bytes"), 0o644))

	mgr.RunDemotionSweep(ctx, replicas, now, 24*time.Hour)

	_, statErr := os.Stat(hotPath)
	assert.True(t, os.IsNotExist(statErr), "hot-cache file should be removed after demotion")

	uploaded, ok := store.Bytes("primary-bucket", dbKey)
	require.True(t, ok)
	assert.Equal(t, "hot-bytes", string(uploaded))

	refreshed, err := tenants.FindByID(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, types.TierCold, refreshed.StorageTier)
	assert.WithinDuration(t, now, refreshed.LastDemotedAt, time.Second)
}

// property 4's (b) branch: a tenant still within the idle threshold is
// left entirely alone by the sweep.
func TestManager_RunDemotionSweep_LeavesRecentlyActiveTenantAlone(t *testing.T) {
	ctx := context.Background()
	mount := t.TempDir()
	store := memstore.New()
	tenants := memory.NewTenantDirectory()
	replicas := memory.NewReplicaDirectory()

	now := time.Now().UTC()
	tenants.Put(&types.Tenant{
		TenantID:       tenantID,
		TenantName:     tenantName,
		StorageTier:    types.TierHot,
		LastAccessedAt: now.Add(-1 * time.Hour),
	})
	replicas.Put(&types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", DBPath: dbKey})

	mgr := New(mount, store, tenants, nil)
	hotPath := mgr.HotPath(dbKey)
	require.NoError(t, os.MkdirAll(filepath.Dir(hotPath), 0o755))
	require.NoError(t, os.WriteFile(hotPath, []byte("hot-bytes"), 0o644))

	mgr.RunDemotionSweep(ctx, replicas, now, 24*time.Hour)

	_, statErr := os.Stat(hotPath)
	assert.NoError(t, statErr, "hot-cache file must remain untouched")
	assert.False(t, store.Has("primary-bucket", dbKey))

	refreshed, err := tenants.FindByID(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, refreshed.StorageTier)
}
