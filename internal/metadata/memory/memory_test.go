package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantsqld/tenantsqld/internal/types"
)

func TestTenantDirectory_FindByNameAndID(t *testing.T) {
	d := NewTenantDirectory()
	d.Put(&types.Tenant{TenantID: "t-1", TenantName: "Tandon", APIKey: "sk_X"})

	byName, err := d.FindByName(context.Background(), "Tandon")
	require.NoError(t, err)
	assert.Equal(t, "t-1", byName.TenantID)

	byID, err := d.FindByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Tandon", byID.TenantName)

	_, err = d.FindByName(context.Background(), "Nobody")
	assert.Error(t, err)
}

func TestTenantDirectory_PutDefaultsToColdTier(t *testing.T) {
	d := NewTenantDirectory()
	d.Put(&types.Tenant{TenantID: "t-1", TenantName: "Tandon"})

	tenant, err := d.FindByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, types.TierCold, tenant.StorageTier)
}

func TestTenantDirectory_MarkHotThenMarkDemoted(t *testing.T) {
	ctx := context.Background()
	d := NewTenantDirectory()
	d.Put(&types.Tenant{TenantID: "t-1", TenantName: "Tandon"})

	now := time.Now().UTC()
	require.NoError(t, d.MarkHot(ctx, "t-1", now, "tenants/t-1.db"))
	tenant, err := d.FindByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, types.TierHot, tenant.StorageTier)
	assert.Equal(t, "tenants/t-1.db", tenant.CurrentDBPath)

	// MarkHot only sets current_db_path if it was previously unset.
	require.NoError(t, d.MarkHot(ctx, "t-1", now, "tenants/other.db"))
	tenant, err = d.FindByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "tenants/t-1.db", tenant.CurrentDBPath)

	require.NoError(t, d.MarkDemoted(ctx, "t-1", now))
	tenant, err = d.FindByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, types.TierCold, tenant.StorageTier)
	assert.Equal(t, now, tenant.LastDemotedAt)
}

func TestTenantDirectory_ListHotIdleSince(t *testing.T) {
	ctx := context.Background()
	d := NewTenantDirectory()
	now := time.Now().UTC()

	d.Put(&types.Tenant{TenantID: "t-1", TenantName: "Tandon", StorageTier: types.TierHot, LastAccessedAt: now.Add(-25 * time.Hour)})
	d.Put(&types.Tenant{TenantID: "t-2", TenantName: "Other", StorageTier: types.TierHot, LastAccessedAt: now.Add(-1 * time.Hour)})
	d.Put(&types.Tenant{TenantID: "t-3", TenantName: "ColdOne", StorageTier: types.TierCold, LastAccessedAt: now.Add(-48 * time.Hour)})

	idle, err := d.ListHotIdleSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "t-1", idle[0].TenantID)
}

func TestTenantDirectory_Delete(t *testing.T) {
	ctx := context.Background()
	d := NewTenantDirectory()
	d.Put(&types.Tenant{TenantID: "t-1", TenantName: "Tandon"})
	require.NoError(t, d.Delete(ctx, "t-1"))

	_, err := d.FindByID(ctx, "t-1")
	assert.Error(t, err)
	_, err = d.FindByName(ctx, "Tandon")
	assert.Error(t, err)
}

func TestReplicaDirectory_LoadAndBumpUpdated(t *testing.T) {
	ctx := context.Background()
	d := NewReplicaDirectory()
	d.Put(&types.Replica{TenantID: "t-1", PrimaryBucket: "primary-bucket", DBPath: "tenants/t-1.db"})

	r, err := d.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "primary-bucket", r.PrimaryBucket)

	now := time.Now().UTC()
	require.NoError(t, d.BumpUpdated(ctx, "t-1", now))
	r, err = d.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, now, r.LastUpdatedAt)

	_, err = d.Load(ctx, "missing")
	assert.Error(t, err)
}

func TestSchemaDirectory_SaveFindAndTenantsForSchema(t *testing.T) {
	ctx := context.Background()
	d := NewSchemaDirectory()
	schema := &types.Schema{SchemaID: "s-1", S3Path: "schemas/app.sql"}
	require.NoError(t, d.Save(ctx, schema))

	found, err := d.Find(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "schemas/app.sql", found.S3Path)

	d.AttachTenant("s-1", &types.Tenant{TenantID: "t-1", TenantName: "Tandon"})
	d.AttachTenant("s-1", &types.Tenant{TenantID: "t-2", TenantName: "Other"})

	tenants, err := d.TenantsForSchema(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	none, err := d.TenantsForSchema(ctx, "s-unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}
