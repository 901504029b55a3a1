package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/JCapurro/PropScraper/internal/config"
	"github.com/JCapurro/PropScraper/internal/models"
)

// DynamoDBStorage keys items by the natural key, so PutItem already gives
// the at-most-one-record-per-key guarantee.
type DynamoDBStorage struct {
	client    *dynamodb.DynamoDB
	tableName string
}

type dynamoListingItem struct {
	ID                    string `json:"id"`
	models.UnifiedListing `json:",inline"`
}

// NewDynamoDBStorage creates a DynamoDB storage instance.
func NewDynamoDBStorage(cfg config.Storage) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: create AWS session: %w", err)
	}

	s := &DynamoDBStorage{
		client:    dynamodb.New(sess),
		tableName: cfg.TableName,
	}

	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("dynamodb: ensure tables: %w", err)
	}

	return s, nil
}

// ensureTables creates the listings and runs tables if they don't exist
// (for local testing).
func (s *DynamoDBStorage) ensureTables() error {
	for _, table := range []string{s.tableName, s.runsTable()} {
		if err := s.ensureTable(table); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoDBStorage) ensureTable(name string) error {
	_, err := s.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil // table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := s.client.CreateTable(input); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	return s.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

func (s *DynamoDBStorage) runsTable() string {
	return s.tableName + "_runs"
}

// UpsertListing puts the item under the natural key. ALL_OLD return values
// distinguish an insert from an overwrite.
func (s *DynamoDBStorage) UpsertListing(ctx context.Context, listing *models.UnifiedListing) (UpsertResult, error) {
	record := dynamoListingItem{
		ID:             listing.NaturalKey(),
		UnifiedListing: *listing,
	}
	record.IngestedAt = time.Now().UTC()

	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return "", fmt.Errorf("dynamodb: marshal %s: %w", record.ID, err)
	}

	out, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(s.tableName),
		Item:         item,
		ReturnValues: aws.String(dynamodb.ReturnValueAllOld),
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb: upsert %s: %w", record.ID, err)
	}

	if len(out.Attributes) == 0 {
		return UpsertInserted, nil
	}
	return UpsertUpdated, nil
}

// GetListing fetches one listing by natural key.
func (s *DynamoDBStorage) GetListing(ctx context.Context, platform models.Platform, listingID string) (*models.UnifiedListing, error) {
	key := string(platform) + models.KeySeparator + listingID

	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(key)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var record dynamoListingItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("dynamodb: unmarshal %s: %w", key, err)
	}
	return &record.UnifiedListing, nil
}

// CountListings scans the table counting items, optionally for one platform.
// Scan-based counting is acceptable for a batch reporting summary.
func (s *DynamoDBStorage) CountListings(ctx context.Context, platform models.Platform) (int64, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		Select:    aws.String(dynamodb.SelectCount),
	}
	if platform != "" {
		input.FilterExpression = aws.String("platform = :p")
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":p": {S: aws.String(string(platform))},
		}
	}

	var total int64
	err := s.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		total += aws.Int64Value(page.Count)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb: count: %w", err)
	}
	return total, nil
}

// RecordRun appends an ingestion run record, keyed by platform and time.
func (s *DynamoDBStorage) RecordRun(ctx context.Context, run *models.IngestionRun) error {
	item, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal run: %w", err)
	}
	item["id"] = &dynamodb.AttributeValue{
		S: aws.String(fmt.Sprintf("%s:%d", run.Platform, run.Timestamp.UnixNano())),
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.runsTable()),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: record run: %w", err)
	}
	return nil
}

// Close is a no-op; the DynamoDB client holds no persistent connection.
func (s *DynamoDBStorage) Close(_ context.Context) error {
	return nil
}
