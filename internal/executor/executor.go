// Package executor implements the Query Executor (C4) and, as a second
// construction of the same type against the standby region, the Standby
// Read Path (C10).
package executor

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tenantsqld/tenantsqld/internal/bderrors"
	"github.com/tenantsqld/tenantsqld/internal/enginedb"
	"github.com/tenantsqld/tenantsqld/internal/metadata"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/querycache"
	"github.com/tenantsqld/tenantsqld/internal/tiered"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

// Result is the outcome of a read, carrying enough detail for the
// httpapi adapter to populate the §6 response envelope.
type Result struct {
	Rows        []map[string]any
	StorageTier string
	DBSource    string
	CacheHit    bool
}

// Executor resolves and runs a read-only tenant query. Constructed once
// against the primary region for C4, and a second time against the
// standby region (no cache, standby_bucket only) for C10.
type Executor struct {
	Tenants   metadata.TenantDirectory
	Replicas  metadata.ReplicaDirectory
	Store     objectstore.ObjectStore
	Tiered    *tiered.Manager
	Cache     querycache.Cache
	MountRoot string
	ScratchDir string
	Logger    *slog.Logger

	// Standby selects the degraded read path: source exclusively from
	// replica.StandbyBucket, never consult or populate the cache, never
	// report db_source=EFS.
	Standby bool
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute resolves req against the tenant/replica directories, serves
// from cache when possible, and otherwise runs the statement against
// the hot-cache copy or a temp-downloaded cold copy.
func (e *Executor) Execute(ctx context.Context, req types.ReadRequest) (*Result, error) {
	tenant, err := e.Tenants.FindByName(ctx, req.TenantName)
	if err != nil {
		return nil, bderrors.NotFound(fmt.Sprintf("tenant %q not found", req.TenantName))
	}

	if subtle.ConstantTimeCompare([]byte(tenant.APIKey), []byte(req.APIKey)) != 1 {
		return nil, bderrors.AuthFailed()
	}

	replica, err := e.Replicas.Load(ctx, tenant.TenantID)
	if err != nil {
		return nil, bderrors.NotFound(fmt.Sprintf("no replica record for tenant %q", req.TenantName))
	}

	bucket := replica.ReadOnlyBucket
	if e.Standby {
		bucket = replica.StandbyBucket
	}
	if bucket == "" {
		return nil, bderrors.NotFound("tenant has no resolvable read bucket")
	}

	dbKey := metadata.ResolveDBPath(tenant, replica)
	if dbKey == "" {
		return nil, bderrors.NotFound("tenant has no resolvable db path")
	}

	if err := e.Tenants.TouchAccess(ctx, tenant.TenantID, time.Now().UTC()); err != nil {
		e.logger().Warn("touch access failed", "tenant_id", tenant.TenantID, "error", err)
	}

	normalized := querycache.NormalizeSQL(req.SQLQuery)
	cacheable := !e.Standby && querycache.IsCacheable(normalized)
	hash := querycache.HashQuery(normalized)

	if cacheable {
		version, _ := e.Cache.Version(ctx, tenant.TenantID)
		if payload, hit := e.Cache.Get(ctx, tenant.TenantID, version, hash); hit {
			rows, derr := decodeRows(payload)
			if derr == nil {
				return &Result{Rows: rows, StorageTier: string(tenant.StorageTier), DBSource: types.DBSourceRedis, CacheHit: true}, nil
			}
			e.logger().Warn("cache payload decode failed, falling through to source", "tenant_id", tenant.TenantID, "error", derr)
		}
	}

	db, dbSource, cleanup, err := e.openSource(ctx, tenant, replica, bucket, dbKey)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	defer db.Close()

	rows, err := db.QueryRows(ctx, normalized)
	if err != nil {
		return nil, bderrors.QueryFailed(err)
	}

	if cacheable {
		version, _ := e.Cache.Version(ctx, tenant.TenantID)
		if payload, eerr := encodeRows(rows); eerr == nil {
			if serr := e.Cache.Set(ctx, tenant.TenantID, version, hash, payload); serr != nil {
				e.logger().Warn("cache set failed", "tenant_id", tenant.TenantID, "error", serr)
			}
		}
	}

	return &Result{Rows: rows, StorageTier: string(tenant.StorageTier), DBSource: dbSource, CacheHit: false}, nil
}

// openSource picks the hot-cache file when present (rehydrating first if
// the tenant is marked HOT but the file is absent), else downloads a
// scratch copy from the resolved read bucket.
func (e *Executor) openSource(ctx context.Context, tenant *types.Tenant, replica *types.Replica, bucket, dbKey string) (*enginedb.DB, string, func(), error) {
	noop := func() {}

	if !e.Standby {
		hotPath := e.Tiered.HotPath(dbKey)
		if _, err := os.Stat(hotPath); err == nil {
			db, err := enginedb.OpenReadOnly(hotPath)
			if err != nil {
				return nil, "", noop, bderrors.StorageFailed("open hot-cache file", err)
			}
			return db, types.DBSourceEFS, noop, nil
		} else if !os.IsNotExist(err) {
			return nil, "", noop, bderrors.StorageFailed("stat hot-cache file", err)
		}

		if tenant.StorageTier == types.TierHot {
			path, rerr := e.Tiered.Rehydrate(ctx, tenant, replica, tiered.RehydrateOptions{PreferReadReplica: true})
			if rerr == nil {
				db, err := enginedb.OpenReadOnly(path)
				if err != nil {
					return nil, "", noop, bderrors.StorageFailed("open rehydrated file", err)
				}
				return db, types.DBSourceEFS, noop, nil
			}
			e.logger().Warn("rehydrate-on-read failed, falling back to cold read", "tenant_id", tenant.TenantID, "error", rerr)
		}
	}

	tmp, err := os.CreateTemp(e.ScratchDir, "tenantsqld-read-*.db")
	if err != nil {
		return nil, "", noop, bderrors.StorageFailed("create scratch file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := e.Store.GetToFile(ctx, bucket, dbKey, tmpPath); err != nil {
		cleanup()
		return nil, "", noop, bderrors.StorageFailed(fmt.Sprintf("download %s/%s", bucket, dbKey), err)
	}

	db, err := enginedb.OpenReadOnly(tmpPath)
	if err != nil {
		cleanup()
		return nil, "", noop, bderrors.StorageFailed("open downloaded file", err)
	}

	return db, types.DBSourceS3ReadReplica, cleanup, nil
}
