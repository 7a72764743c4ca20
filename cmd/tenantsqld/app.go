package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tenantsqld/tenantsqld/internal/bus"
	"github.com/tenantsqld/tenantsqld/internal/bus/awsbus"
	"github.com/tenantsqld/tenantsqld/internal/config"
	"github.com/tenantsqld/tenantsqld/internal/executor"
	"github.com/tenantsqld/tenantsqld/internal/logging"
	"github.com/tenantsqld/tenantsqld/internal/metadata"
	"github.com/tenantsqld/tenantsqld/internal/metadata/dynamo"
	"github.com/tenantsqld/tenantsqld/internal/migration"
	"github.com/tenantsqld/tenantsqld/internal/objectstore"
	"github.com/tenantsqld/tenantsqld/internal/objectstore/s3store"
	"github.com/tenantsqld/tenantsqld/internal/querycache"
	"github.com/tenantsqld/tenantsqld/internal/replication"
	"github.com/tenantsqld/tenantsqld/internal/tiered"
	"github.com/tenantsqld/tenantsqld/internal/writepipeline"

	"log/slog"
)

// app bundles every wired collaborator a subcommand might need, built
// once from process configuration.
type app struct {
	cfg *config.Config
	log *slog.Logger

	tenants  metadata.TenantDirectory
	replicas metadata.ReplicaDirectory
	schemas  metadata.SchemaDirectory

	primaryStore objectstore.ObjectStore
	standbyStore objectstore.ObjectStore

	tieredMgr *tiered.Manager
	cache     querycache.Cache

	publisher bus.Publisher
	queue     bus.Queue

	primaryExecutor *executor.Executor
	standbyExecutor *executor.Executor
	pipeline        *writepipeline.Pipeline
	replicationWkr  *replication.Worker
	migrationCoord  *migration.Coordinator
	migrationWkr    *migration.Worker
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)

	primaryAWSCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load primary-region aws config: %w", err)
	}

	var dynamoOpts []func(*dynamodb.Options)
	if cfg.DynamoEndpoint != "" {
		dynamoOpts = append(dynamoOpts, func(o *dynamodb.Options) { o.BaseEndpoint = &cfg.DynamoEndpoint })
	}
	dynamoClient := dynamodb.NewFromConfig(primaryAWSCfg, dynamoOpts...)

	tenants := dynamo.NewTenantDirectory(dynamoClient, cfg.TenantMetadataTable, cfg.TenantNameIndex)
	replicas := dynamo.NewReplicaDirectory(dynamoClient, cfg.ReplicaMetadataTable)
	schemas := dynamo.NewSchemaDirectory(dynamoClient, cfg.SchemaMetadataTable, cfg.TenantMetadataTable)

	primaryStore, err := s3store.New(ctx, cfg.AWSRegion, "")
	if err != nil {
		return nil, fmt.Errorf("build primary-region object store: %w", err)
	}
	standbyStore, err := s3store.New(ctx, cfg.AWSStandbyRegion, "")
	if err != nil {
		return nil, fmt.Errorf("build standby-region object store: %w", err)
	}

	tieredMgr := tiered.New(cfg.EFSMountDir, primaryStore, tenants, logger)

	var cache querycache.Cache = querycache.NoopCache{}
	if cfg.RedisEnabled {
		cache = querycache.New(querycache.Config{
			Host:           cfg.RedisHost,
			Port:           cfg.RedisPort,
			TLS:            cfg.RedisTLS,
			AuthToken:      cfg.RedisAuthToken,
			TTL:            time.Duration(cfg.RedisTTLSeconds) * time.Second,
			ConnectTimeout: time.Duration(cfg.RedisConnectTimeoutMs) * time.Millisecond,
			SocketTimeout:  time.Duration(cfg.RedisSocketTimeoutMs) * time.Millisecond,
			MaxValueBytes:  cfg.RedisMaxValueBytes,
		}, func(op string, err error) {
			logger.Warn("query cache operation failed", "op", op, "error", err)
		})
	}

	snsClient := sns.NewFromConfig(primaryAWSCfg)
	sqsClient := sqs.NewFromConfig(primaryAWSCfg)
	publisher := awsbus.NewPublisher(snsClient)
	queue := awsbus.NewQueue(sqsClient)

	primaryExecutor := &executor.Executor{
		Tenants:    tenants,
		Replicas:   replicas,
		Store:      primaryStore,
		Tiered:     tieredMgr,
		Cache:      cache,
		MountRoot:  cfg.EFSMountDir,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	}

	standbyExecutor := &executor.Executor{
		Tenants:    tenants,
		Replicas:   replicas,
		Store:      standbyStore,
		Tiered:     tieredMgr,
		Cache:      querycache.NoopCache{},
		MountRoot:  cfg.EFSMountDir,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
		Standby:    true,
	}

	pipeline := &writepipeline.Pipeline{
		Tenants:    tenants,
		Replicas:   replicas,
		Store:      primaryStore,
		Tiered:     tieredMgr,
		Cache:      cache,
		Publisher:  publisher,
		TopicARN:   cfg.SNSTopicARN,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	}

	replicationWkr := &replication.Worker{
		Store:      standbyStore,
		ScratchDir: cfg.ScratchDir,
	}

	migrationCoord := &migration.Coordinator{
		Schemas:  schemas,
		Store:    primaryStore,
		Queue:    queue,
		QueueURL: cfg.MigrationQueueURL,
		Logger:   logger,
	}

	migrationWkr := &migration.Worker{
		Store:      primaryStore,
		Tenants:    tenants,
		Tiered:     tieredMgr,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	}

	return &app{
		cfg:             cfg,
		log:             logger,
		tenants:         tenants,
		replicas:        replicas,
		schemas:         schemas,
		primaryStore:    primaryStore,
		standbyStore:    standbyStore,
		tieredMgr:       tieredMgr,
		cache:           cache,
		publisher:       publisher,
		queue:           queue,
		primaryExecutor: primaryExecutor,
		standbyExecutor: standbyExecutor,
		pipeline:        pipeline,
		replicationWkr:  replicationWkr,
		migrationCoord:  migrationCoord,
		migrationWkr:    migrationWkr,
	}, nil
}
