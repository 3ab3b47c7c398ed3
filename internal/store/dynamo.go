package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/labelcache/internal/model"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// dynamoItem is the table layout. Attribute names match the deployed
// idempotency table, and etag-scheme fingerprints are keyed by the bare
// ETag as that table stores them, so existing records remain readable.
type dynamoItem struct {
	ObjectETag string    `dynamodbav:"ObjectETag"`
	S3Url      string    `dynamodbav:"S3Url"`
	IsCat      bool      `dynamodbav:"IsCat"`
	CreatedAt  time.Time `dynamodbav:"CreatedAt"`
}

const dynamoKeyAttr = "ObjectETag"

// DynamoStore implements Store on a DynamoDB table keyed by ObjectETag.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a store for the given table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Lookup reads the record for fp with a strongly consistent read.
func (s *DynamoStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	rec, found, err := s.get(ctx, fp)
	if err != nil {
		return model.ClassificationRecord{}, false, model.Classify("store.lookup", err)
	}
	return rec, found, nil
}

// TryInsert puts rec with attribute_not_exists on the key.
// A failed condition returns the stored item, falling back to a consistent
// read when the service omits it.
func (s *DynamoStore) TryInsert(ctx context.Context, rec model.ClassificationRecord) (InsertResult, error) {
	const op = "store.try_insert"
	if err := checkRecord(op, rec); err != nil {
		return InsertResult{}, err
	}

	item, err := attributevalue.MarshalMap(dynamoItem{
		ObjectETag: dynamoKey(rec.Fingerprint),
		S3Url:      rec.SourceLocator,
		IsCat:      rec.IsMatch,
		CreatedAt:  rec.CreatedAt.UTC(),
	})
	if err != nil {
		return InsertResult{}, model.Invariant(op, rec.Fingerprint, fmt.Errorf("marshal item: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(s.table),
		Item:                                item,
		ConditionExpression:                 aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames:            map[string]string{"#k": dynamoKeyAttr},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return InsertResult{Outcome: InsertedNew, Record: rec}, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return InsertResult{}, model.Transient(op, fmt.Errorf("put item: %w", err))
	}

	if len(ccf.Item) > 0 {
		existing, err := decodeItem(ccf.Item)
		if err != nil {
			return InsertResult{}, model.Invariant(op, rec.Fingerprint, err)
		}
		return InsertResult{Outcome: AlreadyExists, Record: existing}, nil
	}

	existing, found, err := s.get(ctx, rec.Fingerprint)
	if err != nil {
		return InsertResult{}, model.Classify(op, err)
	}
	if !found {
		return InsertResult{}, conflictWithoutWinner(op, rec.Fingerprint)
	}
	return InsertResult{Outcome: AlreadyExists, Record: existing}, nil
}

// Close is a no-op; the AWS client has no connection to release.
func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) get(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{dynamoKeyAttr: &types.AttributeValueMemberS{Value: dynamoKey(fp)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.ClassificationRecord{}, false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return model.ClassificationRecord{}, false, nil
	}
	rec, err := decodeItem(out.Item)
	if err != nil {
		return model.ClassificationRecord{}, false, model.Invariant("store.decode", fp, err)
	}
	return rec, true, nil
}

func decodeItem(item map[string]types.AttributeValue) (model.ClassificationRecord, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return model.ClassificationRecord{}, fmt.Errorf("unmarshal item: %w", err)
	}
	return model.ClassificationRecord{
		Fingerprint:   fingerprintFromKey(it.ObjectETag),
		SourceLocator: it.S3Url,
		IsMatch:       it.IsCat,
		CreatedAt:     it.CreatedAt,
	}, nil
}

// dynamoKey maps fp to its ObjectETag value. ETag fingerprints drop their
// scheme; other schemes keep it so they cannot collide with an ETag.
func dynamoKey(fp model.Fingerprint) string {
	if fp.Scheme() == model.SchemeETag {
		return strings.TrimPrefix(string(fp), model.SchemeETag+":")
	}
	return string(fp)
}

// fingerprintFromKey reverses dynamoKey.
func fingerprintFromKey(key string) model.Fingerprint {
	if strings.Contains(key, ":") {
		return model.Fingerprint(key)
	}
	return model.Fingerprint(model.SchemeETag + ":" + key)
}
