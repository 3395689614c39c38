package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	streamav "github.com/aws/aws-sdk-go-v2/feature/dynamodbstreams/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// streamsAPI is the slice of the streams client the feed uses.
type streamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, opts ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// Feed polls the table stream shard by shard and converts stream records
// into change events. Delivery is at least once and unordered across shards,
// which is exactly the contract the enrichment processor is written against.
type Feed struct {
	client       streamsAPI
	streamArn    string
	pollInterval time.Duration
	logger       *zap.Logger

	iterators map[string]string
}

// NewFeedForStore resolves the store table's stream and builds a Feed on it.
func NewFeedForStore(ctx context.Context, cfg Config, store *Store, pollInterval time.Duration, logger *zap.Logger) (*Feed, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := dynamodbstreams.NewFromConfig(awsCfg, func(o *dynamodbstreams.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	arn, err := store.StreamArn(ctx)
	if err != nil {
		return nil, err
	}
	return NewFeed(client, arn, pollInterval, logger), nil
}

// NewFeed builds a Feed over a stream.
func NewFeed(client streamsAPI, streamArn string, pollInterval time.Duration, logger *zap.Logger) *Feed {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Feed{
		client:       client,
		streamArn:    streamArn,
		pollInterval: pollInterval,
		logger:       logger,
		iterators:    make(map[string]string),
	}
}

// Next implements catalog.ChangeFeed. It polls until at least one event
// arrives or ctx finishes.
func (f *Feed) Next(ctx context.Context) ([]catalog.ChangeEvent, error) {
	for {
		if len(f.iterators) == 0 {
			if err := f.refreshShards(ctx); err != nil {
				return nil, err
			}
		}

		batch, err := f.pollShards(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.pollInterval):
		}
	}
}

func (f *Feed) refreshShards(ctx context.Context) error {
	desc, err := f.client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
		StreamArn: aws.String(f.streamArn),
	})
	if err != nil {
		return fmt.Errorf("describe stream: %w", err)
	}
	for _, shard := range desc.StreamDescription.Shards {
		shardID := aws.ToString(shard.ShardId)
		if _, ok := f.iterators[shardID]; ok {
			continue
		}
		out, err := f.client.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
			StreamArn:         aws.String(f.streamArn),
			ShardId:           shard.ShardId,
			ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
		})
		if err != nil {
			return fmt.Errorf("shard iterator for %s: %w", shardID, err)
		}
		f.iterators[shardID] = aws.ToString(out.ShardIterator)
	}
	return nil
}

func (f *Feed) pollShards(ctx context.Context) ([]catalog.ChangeEvent, error) {
	var batch []catalog.ChangeEvent
	for shardID, iterator := range f.iterators {
		out, err := f.client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: aws.String(iterator),
			Limit:         aws.Int32(100),
		})
		if err != nil {
			return nil, fmt.Errorf("get records from shard %s: %w", shardID, err)
		}
		for _, record := range out.Records {
			event, err := f.convert(record)
			if err != nil {
				f.logger.Warn("skipping undecodable stream record",
					zap.String("shard", shardID),
					zap.Error(err),
				)
				continue
			}
			batch = append(batch, event)
		}
		if out.NextShardIterator == nil {
			// Shard closed; a later refresh picks up its children.
			delete(f.iterators, shardID)
			continue
		}
		f.iterators[shardID] = *out.NextShardIterator
	}
	return batch, nil
}

func (f *Feed) convert(record streamtypes.Record) (catalog.ChangeEvent, error) {
	event := catalog.ChangeEvent{}
	switch record.EventName {
	case streamtypes.OperationTypeInsert:
		event.Kind = catalog.ChangeInsert
	case streamtypes.OperationTypeModify:
		event.Kind = catalog.ChangeModify
	case streamtypes.OperationTypeRemove:
		event.Kind = catalog.ChangeRemove
	default:
		return event, fmt.Errorf("unknown stream event %q", record.EventName)
	}

	if record.Dynamodb == nil {
		return event, fmt.Errorf("stream record has no data element")
	}
	if len(record.Dynamodb.OldImage) > 0 {
		var before catalog.SourceRecord
		if err := streamav.UnmarshalMap(record.Dynamodb.OldImage, &before); err != nil {
			return event, fmt.Errorf("unmarshal old image: %w", err)
		}
		event.Before = &before
	}
	if len(record.Dynamodb.NewImage) > 0 {
		var after catalog.SourceRecord
		if err := streamav.UnmarshalMap(record.Dynamodb.NewImage, &after); err != nil {
			return event, fmt.Errorf("unmarshal new image: %w", err)
		}
		event.After = &after
	}
	return event, nil
}
