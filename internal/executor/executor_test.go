package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantsqld/tenantsqld/internal/enginedb"
	"github.com/tenantsqld/tenantsqld/internal/metadata/memory"
	"github.com/tenantsqld/tenantsqld/internal/objectstore/memstore"
	"github.com/tenantsqld/tenantsqld/internal/querycache"
	"github.com/tenantsqld/tenantsqld/internal/tiered"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

const (
	tenantName = "Tandon"
	tenantID   = "t-1"
	apiKey     = "sk_X"
	dbKey      = "tenants/t-1.db"
)

func seedDB(t *testing.T, store *memstore.Store, bucket string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.db")
	db, err := enginedb.Open(path)
	require.NoError(t, err)
	_, err = db.ExecWrite(ctx, `CREATE TABLE dummy (n INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, store.PutFile(ctx, bucket, dbKey, path))
}

// S1: cold read fallback. A COLD tenant with no hot-cache file falls
// back to a scratch-downloaded copy from the read-only bucket, reports
// db_source=S3_READ_REPLICA, and leaves no temp file behind afterward.
func TestExecutor_Execute_S1_ColdReadFallback(t *testing.T) {
	ctx := context.Background()
	scratch := t.TempDir()
	mount := t.TempDir()
	store := memstore.New()
	seedDB(t, store, "read-bucket")

	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, APIKey: apiKey, StorageTier: types.TierCold})
	replicas := memory.NewReplicaDirectory()
	replicas.Put(&types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", ReadOnlyBucket: "read-bucket", StandbyBucket: "standby-bucket", DBPath: dbKey})

	e := &Executor{
		Tenants:    tenants,
		Replicas:   replicas,
		Store:      store,
		Tiered:     tiered.New(mount, store, tenants, nil),
		Cache:      querycache.NoopCache{},
		MountRoot:  mount,
		ScratchDir: scratch,
	}

	res, err := e.Execute(ctx, types.ReadRequest{TenantName: tenantName, APIKey: apiKey, SQLQuery: "SELECT 1 AS n"})
	require.NoError(t, err)
	assert.Equal(t, types.DBSourceS3ReadReplica, res.DBSource)
	assert.Equal(t, string(types.TierCold), res.StorageTier)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 1, res.Rows[0]["n"])

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up after the response")
}

func TestExecutor_Execute_AuthFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, APIKey: apiKey, StorageTier: types.TierCold})
	replicas := memory.NewReplicaDirectory()
	replicas.Put(&types.Replica{TenantID: tenantID, ReadOnlyBucket: "read-bucket", DBPath: dbKey})

	e := &Executor{Tenants: tenants, Replicas: replicas, Store: store, Tiered: tiered.New(t.TempDir(), store, tenants, nil), Cache: querycache.NoopCache{}, ScratchDir: t.TempDir()}

	_, err := e.Execute(ctx, types.ReadRequest{TenantName: tenantName, APIKey: "wrong", SQLQuery: "SELECT 1"})
	require.Error(t, err)
}

// Property 2: a cacheable query served a second time (no intervening
// write) returns cache_hit=true with the same payload.
func TestExecutor_Execute_Property2_SecondReadIsCacheHit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedDB(t, store, "read-bucket")

	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, APIKey: apiKey, StorageTier: types.TierCold})
	replicas := memory.NewReplicaDirectory()
	replicas.Put(&types.Replica{TenantID: tenantID, ReadOnlyBucket: "read-bucket", DBPath: dbKey})

	cache := &fakeCache{}
	e := &Executor{Tenants: tenants, Replicas: replicas, Store: store, Tiered: tiered.New(t.TempDir(), store, tenants, nil), Cache: cache, ScratchDir: t.TempDir()}

	first, err := e.Execute(ctx, types.ReadRequest{TenantName: tenantName, APIKey: apiKey, SQLQuery: "SELECT 1 AS n"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := e.Execute(ctx, types.ReadRequest{TenantName: tenantName, APIKey: apiKey, SQLQuery: "SELECT 1 AS n"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, types.DBSourceRedis, second.DBSource)
	require.Len(t, second.Rows, len(first.Rows))
	// The cache payload round-trips through JSON, so compare by value
	// rather than by Go type (an int64 source row vs. a float64 decode).
	assert.EqualValues(t, first.Rows[0]["n"], second.Rows[0]["n"])
}

// Standby read path (C10): never touches the cache and never reports
// db_source=EFS, sourcing exclusively from the standby bucket.
func TestExecutor_Execute_StandbyNeverUsesCacheOrEFS(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedDB(t, store, "standby-bucket")

	tenants := memory.NewTenantDirectory()
	tenants.Put(&types.Tenant{TenantID: tenantID, TenantName: tenantName, APIKey: apiKey, StorageTier: types.TierHot})
	replicas := memory.NewReplicaDirectory()
	replicas.Put(&types.Replica{TenantID: tenantID, PrimaryBucket: "primary-bucket", ReadOnlyBucket: "read-bucket", StandbyBucket: "standby-bucket", DBPath: dbKey})

	cache := &fakeCache{}
	e := &Executor{Tenants: tenants, Replicas: replicas, Store: store, Tiered: tiered.New(t.TempDir(), store, tenants, nil), Cache: cache, ScratchDir: t.TempDir(), Standby: true}

	res, err := e.Execute(ctx, types.ReadRequest{TenantName: tenantName, APIKey: apiKey, SQLQuery: "SELECT 1 AS n"})
	require.NoError(t, err)
	assert.NotEqual(t, types.DBSourceEFS, res.DBSource)
	assert.False(t, res.CacheHit)
	assert.Zero(t, cache.setCalls, "standby path must never populate the cache")
}

type fakeCache struct {
	version  int64
	payload  map[string][]byte
	setCalls int
}

func (c *fakeCache) Version(context.Context, string) (int64, error) { return c.version, nil }
func (c *fakeCache) Get(_ context.Context, _ string, _ int64, hash string) ([]byte, bool) {
	if c.payload == nil {
		return nil, false
	}
	p, ok := c.payload[hash]
	return p, ok
}
func (c *fakeCache) Set(_ context.Context, _ string, _ int64, hash string, payload []byte) error {
	if c.payload == nil {
		c.payload = make(map[string][]byte)
	}
	c.payload[hash] = payload
	c.setCalls++
	return nil
}
func (c *fakeCache) IncrVersion(_ context.Context, _ string) (int64, error) {
	c.version++
	return c.version, nil
}
