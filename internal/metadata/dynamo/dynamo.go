// Package dynamo implements the Tenant and Replica Directories against
// Amazon DynamoDB, grounded on the single-table design documented in the
// pack's Brain2 DynamoDB reference (PK/SK composite keys, a GSI for the
// secondary access pattern). TENANT_METADATA_TABLE and
// REPLICA_METADATA_TABLE each map to one DynamoDB table; TENANT_NAME_INDEX
// names the GSI used by find_tenant_by_name.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types" // the AWS SDK's own types package
	"github.com/aws/smithy-go"

	bdtypes "github.com/tenantsqld/tenantsqld/internal/types"
)

// item is the on-the-wire DynamoDB representation of a tenant record.
type item struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	TenantID        string `dynamodbav:"tenant_id"`
	TenantName      string `dynamodbav:"tenant_name"`
	APIKey          string `dynamodbav:"api_key"`
	CurrentDBPath   string `dynamodbav:"current_db_path"`
	StorageTier     string `dynamodbav:"storage_tier"`
	LastAccessedAt  string `dynamodbav:"last_accessed_at"`
	LastDemotedAt   string `dynamodbav:"last_demoted_at,omitempty"`
	CreatedAt       string `dynamodbav:"created_at"`
	UpdatedAt       string `dynamodbav:"updated_at"`
	SchemaVersion   string `dynamodbav:"schema_version,omitempty"`
	ParentSchemaRef string `dynamodbav:"parent_schema_ref,omitempty"`
}

func tenantPK(id string) string { return "TENANT#" + id }

const tenantSK = "META"

// TenantDirectory implements metadata.TenantDirectory against DynamoDB.
type TenantDirectory struct {
	client    *dynamodb.Client
	table     string
	nameIndex string
}

func NewTenantDirectory(client *dynamodb.Client, table, nameIndex string) *TenantDirectory {
	return &TenantDirectory{client: client, table: table, nameIndex: nameIndex}
}

func (d *TenantDirectory) FindByName(ctx context.Context, name string) (*bdtypes.Tenant, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.nameIndex),
		KeyConditionExpression: aws.String("tenant_name = :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberS{Value: name},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: query by name %q: %w", name, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("tenant %q: %w", name, errNotFound)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal tenant %q: %w", name, err)
	}
	return itemToTenant(&it), nil
}

func (d *TenantDirectory) FindByID(ctx context.Context, id string) (*bdtypes.Tenant, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(id)},
			"SK": &types.AttributeValueMemberS{Value: tenantSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get tenant %q: %w", id, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("tenant id %q: %w", id, errNotFound)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal tenant %q: %w", id, err)
	}
	return itemToTenant(&it), nil
}

func (d *TenantDirectory) TouchAccess(ctx context.Context, tenantID string, now time.Time) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: tenantSK},
		},
		UpdateExpression: aws.String("SET last_accessed_at = :t, updated_at = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: formatTime(now)},
		},
	})
	return err
}

func (d *TenantDirectory) MarkDemoted(ctx context.Context, tenantID string, now time.Time) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: tenantSK},
		},
		UpdateExpression: aws.String("SET storage_tier = :c, last_demoted_at = :t, updated_at = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: string(bdtypes.TierCold)},
			":t": &types.AttributeValueMemberS{Value: formatTime(now)},
		},
	})
	return err
}

// MarkHot sets storage_tier=HOT, stamps last_accessed_at, and sets
// current_db_path only if it is currently absent (if_not_exists is
// DynamoDB's native only-if-absent primitive).
func (d *TenantDirectory) MarkHot(ctx context.Context, tenantID string, now time.Time, dbKey string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: tenantSK},
		},
		UpdateExpression: aws.String(
			"SET storage_tier = :h, last_accessed_at = :t, updated_at = :t, current_db_path = if_not_exists(current_db_path, :k)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: string(bdtypes.TierHot)},
			":t": &types.AttributeValueMemberS{Value: formatTime(now)},
			":k": &types.AttributeValueMemberS{Value: dbKey},
		},
	})
	return err
}

// ListHotIdleSince scans for HOT tenants past the idle cutoff. A real
// deployment would maintain a GSI keyed on storage_tier + last_accessed_at
// to avoid the table scan; the core's interface doesn't mandate one, so
// this implementation documents the tradeoff rather than hiding it.
func (d *TenantDirectory) ListHotIdleSince(ctx context.Context, cutoff time.Time) ([]*bdtypes.Tenant, error) {
	out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.table),
		FilterExpression: aws.String("storage_tier = :h AND last_accessed_at < :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: string(bdtypes.TierHot)},
			":c": &types.AttributeValueMemberS{Value: formatTime(cutoff)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: scan idle tenants: %w", err)
	}
	result := make([]*bdtypes.Tenant, 0, len(out.Items))
	for _, rawItem := range out.Items {
		var it item
		if err := attributevalue.UnmarshalMap(rawItem, &it); err != nil {
			continue
		}
		result = append(result, itemToTenant(&it))
	}
	return result, nil
}

func (d *TenantDirectory) Delete(ctx context.Context, tenantID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: tenantSK},
		},
	})
	return err
}

func itemToTenant(it *item) *bdtypes.Tenant {
	tier := bdtypes.StorageTier(it.StorageTier)
	if tier == "" {
		tier = bdtypes.TierCold
	}
	return &bdtypes.Tenant{
		TenantID:        it.TenantID,
		TenantName:      it.TenantName,
		APIKey:          it.APIKey,
		CurrentDBPath:   it.CurrentDBPath,
		StorageTier:     tier,
		LastAccessedAt:  parseTime(it.LastAccessedAt),
		LastDemotedAt:   parseTime(it.LastDemotedAt),
		CreatedAt:       parseTime(it.CreatedAt),
		UpdatedAt:       parseTime(it.UpdatedAt),
		SchemaVersion:   it.SchemaVersion,
		ParentSchemaRef: it.ParentSchemaRef,
	}
}

// parseTime accepts an RFC-3339-ish string (any offset, or naive = UTC)
// or a numeric epoch-seconds string, per §4.1. A parse failure returns
// the zero time and is not logged. The demotion sweep does not skip such
// a tenant: ListHotIdleSince picks its candidates by comparing the stored
// last_accessed_at strings in the scan filter, not the parsed times.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ReplicaDirectory implements metadata.ReplicaDirectory against DynamoDB.
type ReplicaDirectory struct {
	client *dynamodb.Client
	table  string
}

func NewReplicaDirectory(client *dynamodb.Client, table string) *ReplicaDirectory {
	return &ReplicaDirectory{client: client, table: table}
}

type replicaItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	TenantID       string `dynamodbav:"tenant_id"`
	PrimaryBucket  string `dynamodbav:"primary_bucket"`
	ReadOnlyBucket string `dynamodbav:"read_only_bucket"`
	StandbyBucket  string `dynamodbav:"standby_bucket"`
	DBPath         string `dynamodbav:"db_path"`
	LastUpdatedAt  string `dynamodbav:"last_updated_at,omitempty"`
}

func replicaPK(id string) string { return "REPLICA#" + id }

const replicaSK = "META"

func (d *ReplicaDirectory) Load(ctx context.Context, tenantID string) (*bdtypes.Replica, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: replicaPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: replicaSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get replica %q: %w", tenantID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("replica for tenant %q: %w", tenantID, errNotFound)
	}
	var it replicaItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal replica %q: %w", tenantID, err)
	}
	return &bdtypes.Replica{
		TenantID:       it.TenantID,
		PrimaryBucket:  it.PrimaryBucket,
		ReadOnlyBucket: it.ReadOnlyBucket,
		StandbyBucket:  it.StandbyBucket,
		DBPath:         it.DBPath,
		LastUpdatedAt:  parseTime(it.LastUpdatedAt),
	}, nil
}

func (d *ReplicaDirectory) BumpUpdated(ctx context.Context, tenantID string, now time.Time) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: replicaPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: replicaSK},
		},
		UpdateExpression: aws.String("SET last_updated_at = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: formatTime(now)},
		},
	})
	return err
}

func (d *ReplicaDirectory) Delete(ctx context.Context, tenantID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: replicaPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: replicaSK},
		},
	})
	return err
}

// errNotFound is returned (wrapped) when a lookup finds nothing; callers
// map it onto bderrors.NotFound at the component boundary.
var errNotFound = notFoundSentinel("not found")

type notFoundSentinel string

func (e notFoundSentinel) Error() string { return string(e) }

// IsNotFound reports whether err is (or wraps) the package's not-found
// sentinel, used by metadata callers that need to special-case it, and
// also recognizes DynamoDB's own ConditionalCheckFailedException shape
// for completeness.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}
