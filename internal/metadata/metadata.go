// Package metadata defines the Tenant and Replica Directory interfaces
// (C1, C2). Concrete implementations live in metadata/dynamo (the
// production DynamoDB-backed store) and metadata/memory (the in-memory
// fake used throughout the core's tests).
package metadata

import (
	"context"
	"time"

	"github.com/tenantsqld/tenantsqld/internal/types"
)

// TenantDirectory is the authoritative tenant → metadata mapping (C1).
type TenantDirectory interface {
	// FindByName performs the indexed lookup described in §4.1.
	FindByName(ctx context.Context, name string) (*types.Tenant, error)
	FindByID(ctx context.Context, id string) (*types.Tenant, error)

	// TouchAccess sets last_accessed_at. Failure is telemetry: callers
	// log it and never surface it to the requester.
	TouchAccess(ctx context.Context, tenantID string, now time.Time) error

	// MarkDemoted atomically sets storage_tier=COLD, last_demoted_at=now.
	MarkDemoted(ctx context.Context, tenantID string, now time.Time) error

	// MarkHot sets storage_tier=HOT, last_accessed_at=now, and
	// initializes current_db_path only if it was previously unset.
	MarkHot(ctx context.Context, tenantID string, now time.Time, dbKey string) error

	// ListHotIdleSince returns every HOT tenant whose last_accessed_at
	// is older than cutoff, for the demotion sweep.
	ListHotIdleSince(ctx context.Context, cutoff time.Time) ([]*types.Tenant, error)

	// Delete removes the tenant's metadata row. Callers are responsible
	// for deleting object-store copies first (best-effort, per I1).
	Delete(ctx context.Context, tenantID string) error
}

// ReplicaDirectory is the per-tenant replica bucket mapping (C2).
type ReplicaDirectory interface {
	Load(ctx context.Context, tenantID string) (*types.Replica, error)

	// BumpUpdated sets last_updated_at. Called only by the Write Pipeline.
	BumpUpdated(ctx context.Context, tenantID string, now time.Time) error

	Delete(ctx context.Context, tenantID string) error
}

// SchemaDirectory is the schema-artifact registry consumed by the
// migration coordinator.
type SchemaDirectory interface {
	Find(ctx context.Context, schemaID string) (*types.Schema, error)
	Save(ctx context.Context, schema *types.Schema) error
	TenantsForSchema(ctx context.Context, schemaID string) ([]*types.Tenant, error)
}

// ResolveDBPath returns the db key to use for a tenant, preferring
// tenant.CurrentDBPath and falling back to replica.DBPath. The two
// fields are used interchangeably in the source system (§9) and MUST be
// kept equal after every write and migration rename; this resolver is
// the single place that tolerates them drifting apart during a partial
// failure.
func ResolveDBPath(tenant *types.Tenant, replica *types.Replica) string {
	if tenant != nil && tenant.CurrentDBPath != "" {
		return tenant.CurrentDBPath
	}
	if replica != nil {
		return replica.DBPath
	}
	return ""
}
