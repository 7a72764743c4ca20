// Package migration implements the Schema Migration Coordinator (C8)
// and Schema Migration Worker (C9): an ordered, idempotent DDL operation
// list applied to a canonical schema artifact and to every tenant
// database bound to it.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/tenantsqld/tenantsqld/internal/bderrors"
	"github.com/tenantsqld/tenantsqld/internal/bus"
	"github.com/tenantsqld/tenantsqld/internal/enginedb"
	"github.com/tenantsqld/tenantsqld/internal/metadata"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/tiered"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

// identifierRE is the single gate every table/column name passes
// through before any file is touched.
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier returns bderrors.UnsafeIdentifier if name is not a
// safe bare SQL identifier.
func ValidateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return bderrors.UnsafeIdentifier(name)
	}
	return nil
}

// ValidateOps checks every identifier referenced by ops before any
// component proceeds.
func ValidateOps(ops []types.MigrationOp) error {
	for _, op := range ops {
		switch op.Op {
		case types.OpDropTable, types.OpAddColumn:
			if err := ValidateIdentifier(op.Table); err != nil {
				return err
			}
			if op.Op == types.OpAddColumn && op.Column != nil {
				if err := ValidateIdentifier(op.Column.Name); err != nil {
					return err
				}
			}
		case types.OpRenameTable:
			if err := ValidateIdentifier(op.Table); err != nil {
				return err
			}
			if err := ValidateIdentifier(op.NewName); err != nil {
				return err
			}
		case types.OpCreateTable:
			// CREATE_TABLE carries a raw DDL statement; its identifiers
			// are the embedded engine's own problem once parsed.
		}
	}
	return nil
}

// ApplyOps runs every operation against db in order, using the table's
// existence/column-existence checks so each operation is a no-op when
// its effect is already present (idempotent re-application, per
// SPEC_FULL.md §4.8/§8 property 5).
func ApplyOps(ctx context.Context, db *enginedb.DB, ops []types.MigrationOp) error {
	for _, op := range ops {
		if err := applyOp(ctx, db, op); err != nil {
			return fmt.Errorf("apply %s: %w", op.Op, err)
		}
	}
	return nil
}

func applyOp(ctx context.Context, db *enginedb.DB, op types.MigrationOp) error {
	switch op.Op {
	case types.OpCreateTable:
		_, err := db.ExecWrite(ctx, op.SQL)
		return err

	case types.OpDropTable:
		exists, err := db.TableExists(ctx, op.Table)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_, err = db.ExecWrite(ctx, fmt.Sprintf("DROP TABLE %s", enginedb.QuoteIdent(op.Table)))
		return err

	case types.OpRenameTable:
		exists, err := db.TableExists(ctx, op.Table)
		if err != nil {
			return err
		}
		if !exists {
			// Already renamed (or never existed); treat the destination
			// name's presence as success, its absence as a real failure.
			destExists, derr := db.TableExists(ctx, op.NewName)
			if derr != nil {
				return derr
			}
			if destExists {
				return nil
			}
			return fmt.Errorf("rename source table %q missing and destination %q absent", op.Table, op.NewName)
		}
		_, err = db.ExecWrite(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			enginedb.QuoteIdent(op.Table), enginedb.QuoteIdent(op.NewName)))
		return err

	case types.OpAddColumn:
		if op.Column == nil {
			return fmt.Errorf("add_column: missing column spec")
		}
		exists, err := db.ColumnExists(ctx, op.Table, op.Column.Name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			enginedb.QuoteIdent(op.Table), enginedb.QuoteIdent(op.Column.Name), op.Column.Type)
		if op.Column.Nullable != nil && !*op.Column.Nullable {
			stmt += " NOT NULL"
		}
		if op.Column.Default != "" {
			stmt += " DEFAULT " + op.Column.Default
		}
		_, err = db.ExecWrite(ctx, stmt)
		return err

	default:
		return fmt.Errorf("unknown operation %q", op.Op)
	}
}

// Scope selects which artifact/tenants a coordinator request targets.
type Scope string

const (
	ScopeTemplate Scope = "TEMPLATE"
	ScopeTenant   Scope = "TENANT"
)

// Coordinator is the C8 collaborator set.
type Coordinator struct {
	Schemas  metadata.SchemaDirectory
	Store    objectstore.ObjectStore
	Queue    bus.Queue
	QueueURL string
	Logger   *slog.Logger
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Request describes a single migration request against a schema artifact.
type Request struct {
	Scope           Scope
	SchemaID        string
	Bucket          string
	Operations      []types.MigrationOp
	RefreshHotCache bool
}

// RewriteArtifact loads the schema artifact's DDL, replays it into an
// in-memory database, applies every operation inside a single outer
// transaction, and writes the resulting schema dump back to the primary
// bucket and then to the standby bucket. Never the intermediate form
// that commits partway through the operation list: the whole list
// either lands or the artifact is left untouched.
func (c *Coordinator) RewriteArtifact(ctx context.Context, schema *types.Schema, primaryBucket, standbyBucket string, ops []types.MigrationOp) error {
	if err := ValidateOps(ops); err != nil {
		return err
	}

	artifactKey := schema.S3Path
	if artifactKey == "" {
		return bderrors.NotFound(fmt.Sprintf("schema %s has no s3_path", schema.SchemaID))
	}

	tmp, err := os.CreateTemp("", "tenantsqld-schema-*.sql")
	if err != nil {
		return bderrors.StorageFailed("create scratch file for schema artifact", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := c.Store.GetToFile(ctx, primaryBucket, artifactKey, tmpPath); err != nil {
		return bderrors.StorageFailed(fmt.Sprintf("download schema artifact %s/%s", primaryBucket, artifactKey), err)
	}
	ddl, err := os.ReadFile(tmpPath)
	if err != nil {
		return bderrors.StorageFailed("read downloaded schema artifact", err)
	}

	mem, err := enginedb.OpenInMemory()
	if err != nil {
		return bderrors.StorageFailed("open in-memory replay database", err)
	}
	defer mem.Close()

	if err := mem.ReplayDDL(ctx, string(ddl)); err != nil {
		return bderrors.StorageFailed("replay existing schema DDL", err)
	}

	tx, err := mem.Conn().BeginTx(ctx, nil)
	if err != nil {
		return bderrors.StorageFailed("begin schema rewrite transaction", err)
	}
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, ddlFor(op)); err != nil {
			_ = tx.Rollback()
			return bderrors.StorageFailed(fmt.Sprintf("apply %s", op.Op), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return bderrors.StorageFailed("commit schema rewrite transaction", err)
	}

	dump, err := mem.DumpSchema(ctx)
	if err != nil {
		return bderrors.StorageFailed("dump rewritten schema", err)
	}

	outPath := tmpPath + ".out"
	if err := os.WriteFile(outPath, []byte(dump), 0o644); err != nil {
		return bderrors.StorageFailed("write rewritten schema to scratch file", err)
	}
	defer func() { _ = os.Remove(outPath) }()

	if err := c.Store.PutFile(ctx, primaryBucket, artifactKey, outPath); err != nil {
		return bderrors.StorageFailed("write rewritten schema to primary bucket", err)
	}
	if standbyBucket != "" {
		if err := c.Store.PutFile(ctx, standbyBucket, artifactKey, outPath); err != nil {
			c.logger().Error("copy rewritten schema artifact to standby failed", "schema_id", schema.SchemaID, "error", err)
		}
	}

	return nil
}

// ddlFor renders a single op as a raw DDL statement, used by the
// rewrite path where a fresh in-memory database has no prior rows to
// make existence checks meaningful.
func ddlFor(op types.MigrationOp) string {
	switch op.Op {
	case types.OpCreateTable:
		return op.SQL
	case types.OpDropTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", enginedb.QuoteIdent(op.Table))
	case types.OpRenameTable:
		return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", enginedb.QuoteIdent(op.Table), enginedb.QuoteIdent(op.NewName))
	case types.OpAddColumn:
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			enginedb.QuoteIdent(op.Table), enginedb.QuoteIdent(op.Column.Name), op.Column.Type)
		if op.Column.Nullable != nil && !*op.Column.Nullable {
			stmt += " NOT NULL"
		}
		if op.Column.Default != "" {
			stmt += " DEFAULT " + op.Column.Default
		}
		return stmt
	default:
		return "-- unknown op " + op.Op
	}
}

// FanOut enqueues three per-bucket migration jobs (primary, read-replica,
// standby) for every tenant bound to schemaID, FIFO-grouped by tenant id.
func (c *Coordinator) FanOut(ctx context.Context, req Request, tenants []*types.Tenant, replicas metadata.ReplicaDirectory, now time.Time) error {
	for _, tenant := range tenants {
		replica, err := replicas.Load(ctx, tenant.TenantID)
		if err != nil {
			c.logger().Warn("fan-out: no replica record, skipping tenant", "tenant_id", tenant.TenantID, "error", err)
			continue
		}

		migrationID := uuid.NewString()
		targets := []struct {
			bucket string
			key    string
		}{
			{replica.PrimaryBucket, metadata.ResolveDBPath(tenant, replica)},
			{replica.ReadOnlyBucket, metadata.ResolveDBPath(tenant, replica)},
			{replica.StandbyBucket, metadata.ResolveDBPath(tenant, replica)},
		}

		for _, target := range targets {
			if target.bucket == "" {
				continue
			}
			msg := types.MigrationMessage{
				MigrationID:     migrationID,
				RequestedAt:     now,
				Bucket:          target.bucket,
				SchemaS3Key:     req.SchemaID,
				TenantS3Key:     target.key,
				Operations:      req.Operations,
				TenantID:        tenant.TenantID,
				TenantName:      tenant.TenantName,
				RefreshHotCache: req.RefreshHotCache && target.bucket == replica.PrimaryBucket,
			}
			body, err := marshalMessage(msg)
			if err != nil {
				return fmt.Errorf("marshal migration message for tenant %s: %w", tenant.TenantID, err)
			}
			dedupKey := fmt.Sprintf("%s:%s", tenant.TenantID, migrationID)
			if err := c.Queue.Send(ctx, c.QueueURL, tenant.TenantID, dedupKey, body); err != nil {
				return fmt.Errorf("enqueue migration job for tenant %s: %w", tenant.TenantID, err)
			}
		}
	}
	return nil
}

// Worker is the C9 collaborator set: applies a migration message to a
// single tenant database file.
type Worker struct {
	Store      objectstore.ObjectStore
	Tenants    metadata.TenantDirectory
	Tiered     *tiered.Manager
	ScratchDir string
	Logger     *slog.Logger
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// HandleMessage downloads the tenant file named by msg, applies its
// operation list one operation at a time (no outer transaction; a failed
// operation returns before the upload, so the stored object is left as
// it was), uploads it back to the same bucket/key, and — only for the
// HOT-tier, refresh-requested case, which FanOut sets only on the
// primary-bucket job — re-rehydrates the hot-cache copy.
func (w *Worker) HandleMessage(ctx context.Context, msg types.MigrationMessage) error {
	if err := ValidateOps(msg.Operations); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(w.scratchDir(), "tenantsqld-migrate-*.db")
	if err != nil {
		return bderrors.StorageFailed("create scratch file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := w.Store.GetToFile(ctx, msg.Bucket, msg.TenantS3Key, tmpPath); err != nil {
		return bderrors.StorageFailed(fmt.Sprintf("download %s/%s", msg.Bucket, msg.TenantS3Key), err)
	}

	db, err := enginedb.Open(tmpPath)
	if err != nil {
		return bderrors.StorageFailed("open downloaded tenant database", err)
	}
	defer db.Close()

	if _, err := db.Conn().ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return bderrors.StorageFailed("enable foreign keys", err)
	}

	// Each operation goes through applyOp's existence checks rather than a
	// single outer transaction: messages are delivered at-least-once (see
	// the consumer loop in cmd/tenantsqld), so re-applying an already-done
	// op must be a no-op instead of erroring on "duplicate column" or
	// "no such table".
	if err := ApplyOps(ctx, db, msg.Operations); err != nil {
		return bderrors.StorageFailed("apply migration operations", err)
	}

	if err := w.Store.PutFile(ctx, msg.Bucket, msg.TenantS3Key, tmpPath); err != nil {
		return bderrors.StorageFailed(fmt.Sprintf("upload %s/%s", msg.Bucket, msg.TenantS3Key), err)
	}

	if msg.RefreshHotCache {
		tenant, err := w.Tenants.FindByID(ctx, msg.TenantID)
		if err != nil {
			w.logger().Warn("migration worker: refresh hot cache, tenant lookup failed", "tenant_id", msg.TenantID, "error", err)
			return nil
		}
		if tenant.StorageTier == types.TierHot {
			replica := &types.Replica{TenantID: tenant.TenantID, PrimaryBucket: msg.Bucket, DBPath: msg.TenantS3Key}
			// Rehydrate keeps a hot-cache file that is already present, so the
			// pre-migration copy is removed first to make it fetch the migrated bytes.
			if err := os.Remove(w.Tiered.HotPath(metadata.ResolveDBPath(tenant, replica))); err != nil && !os.IsNotExist(err) {
				w.logger().Warn("migration worker: remove stale hot-cache file", "tenant_id", msg.TenantID, "error", err)
			}
			if _, err := w.Tiered.Rehydrate(ctx, tenant, replica, tiered.RehydrateOptions{}); err != nil {
				w.logger().Error("migration worker: hot-cache refresh failed", "tenant_id", msg.TenantID, "error", err)
			}
		}
	}

	return nil
}

func marshalMessage(msg types.MigrationMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (w *Worker) scratchDir() string {
	if w.ScratchDir != "" {
		return w.ScratchDir
	}
	return os.TempDir()
}
