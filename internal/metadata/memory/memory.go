// Package memory provides in-memory fakes for the Tenant, Replica, and
// Schema directories, used by every core unit test. cmd/tenantsqld does
// not use them; it always wires metadata/dynamo.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenantsqld/tenantsqld/internal/types"
)

// TenantDirectory is a map-backed metadata.TenantDirectory.
type TenantDirectory struct {
	mu        sync.RWMutex
	byID      map[string]*types.Tenant
	nameIndex map[string]string // tenant_name -> tenant_id
}

func NewTenantDirectory() *TenantDirectory {
	return &TenantDirectory{
		byID:      make(map[string]*types.Tenant),
		nameIndex: make(map[string]string),
	}
}

// Put seeds or replaces a tenant record; used by tests and by the (out
// of scope) tenant CRUD surface.
func (d *TenantDirectory) Put(t *types.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *t
	if cp.StorageTier == "" {
		cp.StorageTier = types.TierCold
	}
	d.byID[cp.TenantID] = &cp
	d.nameIndex[cp.TenantName] = cp.TenantID
}

func (d *TenantDirectory) FindByName(_ context.Context, name string) (*types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.nameIndex[name]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", name, errNotFound)
	}
	t, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", name, errNotFound)
	}
	cp := *t
	return &cp, nil
}

func (d *TenantDirectory) FindByID(_ context.Context, id string) (*types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("tenant id %q: %w", id, errNotFound)
	}
	cp := *t
	return &cp, nil
}

func (d *TenantDirectory) TouchAccess(_ context.Context, tenantID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[tenantID]
	if !ok {
		return fmt.Errorf("tenant id %q: %w", tenantID, errNotFound)
	}
	t.LastAccessedAt = now
	t.UpdatedAt = now
	return nil
}

func (d *TenantDirectory) MarkDemoted(_ context.Context, tenantID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[tenantID]
	if !ok {
		return fmt.Errorf("tenant id %q: %w", tenantID, errNotFound)
	}
	t.StorageTier = types.TierCold
	t.LastDemotedAt = now
	t.UpdatedAt = now
	return nil
}

func (d *TenantDirectory) MarkHot(_ context.Context, tenantID string, now time.Time, dbKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[tenantID]
	if !ok {
		return fmt.Errorf("tenant id %q: %w", tenantID, errNotFound)
	}
	t.StorageTier = types.TierHot
	t.LastAccessedAt = now
	t.UpdatedAt = now
	if t.CurrentDBPath == "" {
		t.CurrentDBPath = dbKey
	}
	return nil
}

func (d *TenantDirectory) ListHotIdleSince(_ context.Context, cutoff time.Time) ([]*types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.Tenant
	for _, t := range d.byID {
		if t.StorageTier == types.TierHot && t.LastAccessedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *TenantDirectory) Delete(_ context.Context, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[tenantID]
	if !ok {
		return nil
	}
	delete(d.nameIndex, t.TenantName)
	delete(d.byID, tenantID)
	return nil
}

// ReplicaDirectory is a map-backed metadata.ReplicaDirectory.
type ReplicaDirectory struct {
	mu   sync.RWMutex
	byID map[string]*types.Replica
}

func NewReplicaDirectory() *ReplicaDirectory {
	return &ReplicaDirectory{byID: make(map[string]*types.Replica)}
}

func (d *ReplicaDirectory) Put(r *types.Replica) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *r
	d.byID[cp.TenantID] = &cp
}

func (d *ReplicaDirectory) Load(_ context.Context, tenantID string) (*types.Replica, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.byID[tenantID]
	if !ok {
		return nil, fmt.Errorf("replica for tenant %q: %w", tenantID, errNotFound)
	}
	cp := *r
	return &cp, nil
}

func (d *ReplicaDirectory) BumpUpdated(_ context.Context, tenantID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.byID[tenantID]
	if !ok {
		return fmt.Errorf("replica for tenant %q: %w", tenantID, errNotFound)
	}
	r.LastUpdatedAt = now
	return nil
}

func (d *ReplicaDirectory) Delete(_ context.Context, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, tenantID)
	return nil
}

// SchemaDirectory is a map-backed metadata.SchemaDirectory.
type SchemaDirectory struct {
	mu      sync.RWMutex
	byID    map[string]*types.Schema
	tenants map[string][]*types.Tenant // schemaID -> tenants currently on it
}

func NewSchemaDirectory() *SchemaDirectory {
	return &SchemaDirectory{
		byID:    make(map[string]*types.Schema),
		tenants: make(map[string][]*types.Tenant),
	}
}

func (d *SchemaDirectory) Find(_ context.Context, schemaID string) (*types.Schema, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[schemaID]
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", schemaID, errNotFound)
	}
	cp := *s
	return &cp, nil
}

func (d *SchemaDirectory) Save(_ context.Context, schema *types.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *schema
	d.byID[cp.SchemaID] = &cp
	return nil
}

// AttachTenant registers tenant as bound to schemaID, for TenantsForSchema.
func (d *SchemaDirectory) AttachTenant(schemaID string, tenant *types.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *tenant
	d.tenants[schemaID] = append(d.tenants[schemaID], &cp)
}

func (d *SchemaDirectory) TenantsForSchema(_ context.Context, schemaID string) ([]*types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.Tenant, len(d.tenants[schemaID]))
	copy(out, d.tenants[schemaID])
	return out, nil
}

var errNotFound = notFoundError("not found")

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
