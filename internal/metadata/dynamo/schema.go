package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	bdtypes "github.com/tenantsqld/tenantsqld/internal/types"
)

// schemaItem is the on-the-wire representation of a schema artifact record.
type schemaItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	SchemaID       string `dynamodbav:"schema_id"`
	SchemaName     string `dynamodbav:"schema_name"`
	SchemaType     string `dynamodbav:"schema_type"`
	SchemaSQL      string `dynamodbav:"schema_sql,omitempty"`
	S3Path         string `dynamodbav:"s3_path,omitempty"`
	TenantID       string `dynamodbav:"tenant_id,omitempty"`
	ParentSchemaID string `dynamodbav:"parent_schema_id,omitempty"`
	CreatedAt      string `dynamodbav:"created_at,omitempty"`
	CreatedBy      string `dynamodbav:"created_by,omitempty"`
}

func schemaPK(id string) string { return "SCHEMA#" + id }

const schemaSK = "META"

// SchemaDirectory implements metadata.SchemaDirectory against DynamoDB.
// TenantsForSchema scans the tenant table (the core's only access
// pattern needing it — an infrequent, coordinator-only operation), the
// same tradeoff ListHotIdleSince documents for the demotion sweep.
type SchemaDirectory struct {
	client      *dynamodb.Client
	schemaTable string
	tenantTable string
}

func NewSchemaDirectory(client *dynamodb.Client, schemaTable, tenantTable string) *SchemaDirectory {
	return &SchemaDirectory{client: client, schemaTable: schemaTable, tenantTable: tenantTable}
}

func (d *SchemaDirectory) Find(ctx context.Context, schemaID string) (*bdtypes.Schema, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.schemaTable),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: schemaPK(schemaID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: schemaSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get schema %q: %w", schemaID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("schema %q: %w", schemaID, errNotFound)
	}
	var it schemaItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal schema %q: %w", schemaID, err)
	}
	return &bdtypes.Schema{
		SchemaID:       it.SchemaID,
		SchemaName:     it.SchemaName,
		SchemaType:     bdtypes.SchemaType(it.SchemaType),
		SchemaSQL:      it.SchemaSQL,
		S3Path:         it.S3Path,
		TenantID:       it.TenantID,
		ParentSchemaID: it.ParentSchemaID,
		CreatedAt:      parseTime(it.CreatedAt),
		CreatedBy:      it.CreatedBy,
	}, nil
}

func (d *SchemaDirectory) Save(ctx context.Context, schema *bdtypes.Schema) error {
	it := schemaItem{
		PK:             schemaPK(schema.SchemaID),
		SK:             schemaSK,
		SchemaID:       schema.SchemaID,
		SchemaName:     schema.SchemaName,
		SchemaType:     string(schema.SchemaType),
		SchemaSQL:      schema.SchemaSQL,
		S3Path:         schema.S3Path,
		TenantID:       schema.TenantID,
		ParentSchemaID: schema.ParentSchemaID,
		CreatedAt:      formatTime(schema.CreatedAt),
		CreatedBy:      schema.CreatedBy,
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("dynamo: marshal schema %q: %w", schema.SchemaID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.schemaTable),
		Item:      av,
	})
	return err
}

func (d *SchemaDirectory) TenantsForSchema(ctx context.Context, schemaID string) ([]*bdtypes.Tenant, error) {
	out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.tenantTable),
		FilterExpression: aws.String("parent_schema_ref = :s"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":s": &ddbtypes.AttributeValueMemberS{Value: schemaID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: scan tenants for schema %q: %w", schemaID, err)
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
