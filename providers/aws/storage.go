package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/faststack-io/faststack/internal/ir"
	"github.com/faststack-io/faststack/internal/logging"
	"github.com/faststack-io/faststack/internal/params"
)

// TableConfig configures a key-value table.
type TableConfig struct {
	TableName string `json:"table_name"`
	HashKey   string `json:"hash_key"`
	RangeKey  string `json:"range_key,omitempty"`
	TTLField  string `json:"ttl_field,omitempty"`
}

// BucketConfig configures an object bucket.
type BucketConfig struct {
	BucketName string `json:"bucket_name"`
	Versioned  bool   `json:"versioned,omitempty"`
}

// Storage provisions storage nodes, dispatching on the config type: a
// TableConfig materializes a key-value table, a BucketConfig an object
// bucket.
type Storage struct {
	clients *Clients
	bridge  params.Bridge
	env     string
}

func NewStorage(clients *Clients, bridge params.Bridge, env string) *Storage {
	return &Storage{clients: clients, bridge: bridge, env: env}
}

func (p *Storage) Create(ctx context.Context, node *ir.ResourceNode, in ir.Inputs) (ir.Outputs, error) {
	switch cfg := node.Config.(type) {
	case *TableConfig:
		return p.createTable(ctx, node, cfg)
	case *BucketConfig:
		return p.createBucket(ctx, node, cfg)
	}
	return nil, fmt.Errorf("node %s: unsupported storage config %T", node.ID, node.Config)
}

func (p *Storage) Stabilize(ctx context.Context, node *ir.ResourceNode, out ir.Outputs) error {
	cfg, ok := node.Config.(*TableConfig)
	if !ok {
		return nil // buckets are ready immediately
	}

	for {
		desc, err := p.clients.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: strPtr(cfg.TableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", cfg.TableName, err)
		}
		if desc.Table.TableStatus == ddbtypes.TableStatusActive {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (p *Storage) Delete(ctx context.Context, node *ir.ResourceNode, prior ir.Outputs) error {
	switch cfg := node.Config.(type) {
	case *TableConfig:
		_, err := p.clients.DynamoDB.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: strPtr(cfg.TableName),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete table %s: %w", cfg.TableName, err)
		}
		return nil
	case *BucketConfig:
		_, err := p.clients.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: strPtr(cfg.BucketName),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete bucket %s: %w", cfg.BucketName, err)
		}
		return nil
	}
	return fmt.Errorf("node %s: unsupported storage config %T", node.ID, node.Config)
}

func (p *Storage) createTable(ctx context.Context, node *ir.ResourceNode, cfg *TableConfig) (ir.Outputs, error) {
	attrs := []ddbtypes.AttributeDefinition{
		{AttributeName: strPtr(cfg.HashKey), AttributeType: ddbtypes.ScalarAttributeTypeS},
	}
	schema := []ddbtypes.KeySchemaElement{
		{AttributeName: strPtr(cfg.HashKey), KeyType: ddbtypes.KeyTypeHash},
	}
	if cfg.RangeKey != "" {
		attrs = append(attrs, ddbtypes.AttributeDefinition{
			AttributeName: strPtr(cfg.RangeKey), AttributeType: ddbtypes.ScalarAttributeTypeS,
		})
		schema = append(schema, ddbtypes.KeySchemaElement{
			AttributeName: strPtr(cfg.RangeKey), KeyType: ddbtypes.KeyTypeRange,
		})
	}

	out, err := p.clients.DynamoDB.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            strPtr(cfg.TableName),
		AttributeDefinitions: attrs,
		KeySchema:            schema,
		BillingMode:          ddbtypes.BillingModePayPerRequest,
	})
	var arn string
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create table %s: %w", cfg.TableName, err)
		}
		desc, err := p.clients.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: strPtr(cfg.TableName)})
		if err != nil {
			return nil, fmt.Errorf("failed to describe table %s: %w", cfg.TableName, err)
		}
		arn = *desc.Table.TableArn
	} else {
		arn = *out.TableDescription.TableArn
		logging.Info("table created", "name", cfg.TableName)
	}

	if cfg.TTLField != "" {
		if err := p.ensureTTL(ctx, cfg); err != nil {
			return nil, err
		}
	}

	return p.publishTable(ctx, node, cfg.TableName, arn)
}

// publishTable records the table name under the node's own key; stacks carry
// more than one storage node, so published parameters are namespaced per node.
func (p *Storage) publishTable(ctx context.Context, node *ir.ResourceNode, name, arn string) (ir.Outputs, error) {
	if err := p.bridge.Put(ctx, params.Key(p.env, "storage", node.ID, "table_name"), name, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish table name: %w", err)
	}
	return ir.Outputs{
		"table_name": name,
		"table_arn":  arn,
	}, nil
}

// ensureTTL enables item expiry; the table must be ACTIVE first.
func (p *Storage) ensureTTL(ctx context.Context, cfg *TableConfig) error {
	if err := p.Stabilize(ctx, &ir.ResourceNode{Config: cfg}, nil); err != nil {
		return err
	}
	_, err := p.clients.DynamoDB.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: strPtr(cfg.TableName),
		TimeToLiveSpecification: &ddbtypes.TimeToLiveSpecification{
			AttributeName: strPtr(cfg.TTLField),
			Enabled:       boolPtr(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable ttl on %s: %w", cfg.TableName, err)
	}
	return nil
}

func (p *Storage) createBucket(ctx context.Context, node *ir.ResourceNode, cfg *BucketConfig) (ir.Outputs, error) {
	in := &s3.CreateBucketInput{Bucket: strPtr(cfg.BucketName)}
	// us-east-1 rejects an explicit location constraint.
	if p.clients.Region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.clients.Region),
		}
	}
	if _, err := p.clients.S3.CreateBucket(ctx, in); err != nil && !isAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.BucketName, err)
	}

	if cfg.Versioned {
		_, err := p.clients.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: strPtr(cfg.BucketName),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable versioning on %s: %w", cfg.BucketName, err)
		}
	}

	return p.publishBucket(ctx, node, cfg.BucketName)
}

func (p *Storage) publishBucket(ctx context.Context, node *ir.ResourceNode, name string) (ir.Outputs, error) {
	if err := p.bridge.Put(ctx, params.Key(p.env, "storage", node.ID, "bucket_name"), name, node.ID); err != nil {
		return nil, fmt.Errorf("failed to publish bucket name: %w", err)
	}
	return ir.Outputs{
		"bucket_name": name,
		"bucket_arn":  "arn:aws:s3:::" + name,
	}, nil
}
