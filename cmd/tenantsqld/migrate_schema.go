package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantsqld/tenantsqld/internal/migration"
	"github.com/tenantsqld/tenantsqld/internal/types"
)

var (
	migrateSchemaID   string
	migrateOpsFile    string
	migrateRefreshHot bool
)

var migrateSchemaCmd = &cobra.Command{
	Use:   "migrate-schema",
	Short: "Rewrite a schema artifact and fan out per-tenant migration jobs (C8)",
	Long: `migrate-schema loads the operation list from --ops (a JSON array of
{"op": "...", ...} entries matching internal/types.MigrationOp), rewrites
the named schema artifact via RewriteArtifact, then enqueues one FIFO
migration job per bucket for every tenant bound to that schema via
FanOut. Run migrate-worker (or serve, which includes its consumer loop)
to actually apply the fanned-out jobs to tenant database files.`,
	RunE: runMigrateSchema,
}

func init() {
	migrateSchemaCmd.Flags().StringVar(&migrateSchemaID, "schema-id", "", "schema id to rewrite (required)")
	migrateSchemaCmd.Flags().StringVar(&migrateOpsFile, "ops", "", "path to a JSON file containing the operation list (required)")
	migrateSchemaCmd.Flags().BoolVar(&migrateRefreshHot, "refresh-hot-cache", true, "re-rehydrate each tenant's hot-cache copy after its primary-bucket job applies")
	_ = migrateSchemaCmd.MarkFlagRequired("schema-id")
	_ = migrateSchemaCmd.MarkFlagRequired("ops")
}

func runMigrateSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(migrateOpsFile)
	if err != nil {
		return fmt.Errorf("read ops file %s: %w", migrateOpsFile, err)
	}
	var ops []types.MigrationOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return fmt.Errorf("decode ops file %s: %w", migrateOpsFile, err)
	}

	schema, err := a.schemas.Find(ctx, migrateSchemaID)
	if err != nil {
		return fmt.Errorf("find schema %s: %w", migrateSchemaID, err)
	}

	if a.cfg.SchemaArtifactBucket == "" {
		return fmt.Errorf("SCHEMA_ARTIFACT_BUCKET is required for migrate-schema")
	}

	a.log.Info("migrate-schema: rewriting artifact", "schema_id", migrateSchemaID, "ops", len(ops))
	if err := a.migrationCoord.RewriteArtifact(ctx, schema, a.cfg.SchemaArtifactBucket, a.cfg.SchemaArtifactStandbyBucket, ops); err != nil {
		return fmt.Errorf("rewrite schema artifact: %w", err)
	}

	tenants, err := a.schemas.TenantsForSchema(ctx, migrateSchemaID)
	if err != nil {
		return fmt.Errorf("list tenants for schema %s: %w", migrateSchemaID, err)
	}

	req := migration.Request{
		Scope:           migration.ScopeTemplate,
		SchemaID:        schema.S3Path,
		Operations:      ops,
		RefreshHotCache: migrateRefreshHot,
	}
	if err := a.migrationCoord.FanOut(ctx, req, tenants, a.replicas, time.Now().UTC()); err != nil {
		return fmt.Errorf("fan out migration jobs: %w", err)
	}

	a.log.Info("migrate-schema: fanned out migration jobs", "schema_id", migrateSchemaID, "tenants", len(tenants))
	return nil
}
