// Package dynamo implements the record store and change feed on DynamoDB.
// Records live in one table partitioned by subject_id with a
// "source#timestamp" sort key; the change feed reads the table's stream.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// Config controls the store.
type Config struct {
	Table         string
	SubjectsTable string
	Region        string
	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string
}

// Store is the DynamoDB-backed record store.
type Store struct {
	cfg    Config
	client *dynamodb.Client
	logger *zap.Logger
}

// New resolves AWS configuration and builds a Store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(cfg, client, logger), nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		// Local emulators accept any static credential pair.
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewWithClient builds a Store around an existing client.
func NewWithClient(cfg Config, client *dynamodb.Client, logger *zap.Logger) *Store {
	return &Store{cfg: cfg, client: client, logger: logger}
}

// PutRecord implements catalog.RecordStore.
func (s *Store) PutRecord(ctx context.Context, record catalog.SourceRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.RecordID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.Table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put record %s/%s: %w", record.SubjectID, record.SortKey, err)
	}
	return nil
}

// ListRecords implements catalog.RecordStore using a key-condition query, so
// reads never scan across subjects.
func (s *Store) ListRecords(ctx context.Context, subjectID, sortKeyPrefix string) ([]catalog.SourceRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.Table),
		KeyConditionExpression: aws.String("subject_id = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: subjectID},
		},
	}
	if sortKeyPrefix != "" {
		input.KeyConditionExpression = aws.String("subject_id = :pk AND begins_with(sort_key, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &ddbtypes.AttributeValueMemberS{Value: sortKeyPrefix}
	}

	var out []catalog.SourceRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records for %s: %w", subjectID, err)
		}
		var records []catalog.SourceRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("unmarshal records for %s: %w", subjectID, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// UpdateDerived implements catalog.RecordStore. The existence condition keeps
// a late enrichment from resurrecting a deleted record, and the update
// expression names exactly the three derived attributes.
func (s *Store) UpdateDerived(ctx context.Context, key catalog.RecordKey, weight float64, sentiment string, updatedAt time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.cfg.Table),
		Key: map[string]ddbtypes.AttributeValue{
			"subject_id": &ddbtypes.AttributeValueMemberS{Value: key.SubjectID},
			"sort_key":   &ddbtypes.AttributeValueMemberS{Value: key.SortKey},
		},
		ConditionExpression: aws.String("attribute_exists(subject_id)"),
		UpdateExpression:    aws.String("SET weight = :w, sentiment = :s, updated_at = :u"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":w": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", weight)},
			":s": &ddbtypes.AttributeValueMemberS{Value: sentiment},
			":u": &ddbtypes.AttributeValueMemberS{Value: updatedAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("update derived fields %s/%s: %w", key.SubjectID, key.SortKey, err)
	}
	return nil
}

// ListSubjects implements catalog.SubjectSource by scanning the subjects
// table. The table is small (seeded externally) so a scan is fine here.
func (s *Store) ListSubjects(ctx context.Context, limit int) ([]catalog.Subject, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.cfg.SubjectsTable)}

	var out []catalog.Subject
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan subjects: %w", err)
		}
		var subjects []catalog.Subject
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &subjects); err != nil {
			return nil, fmt.Errorf("unmarshal subjects: %w", err)
		}
		out = append(out, subjects...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

// StreamArn looks up the table's stream, which the change feed consumes.
func (s *Store) StreamArn(ctx context.Context) (string, error) {
	desc, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.cfg.Table),
	})
	if err != nil {
		return "", fmt.Errorf("describe table %s: %w", s.cfg.Table, err)
	}
	if desc.Table.LatestStreamArn == nil {
		return "", fmt.Errorf("table %s has no stream enabled", s.cfg.Table)
	}
	return *desc.Table.LatestStreamArn, nil
}
