package helpdesk

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maxbolgarin/errm"
)

// DynamoConfig contains DynamoDB table settings. Credentials are taken from the default AWS chain.
//
// You can use environment variables to fill it:
// HELPDESK_DYNAMO_TABLE - table name, partition key "pk" of type S
// HELPDESK_DYNAMO_REGION - AWS region, optional if set in the environment
type DynamoConfig struct {
	Table  string `yaml:"table" json:"table" env:"HELPDESK_DYNAMO_TABLE"`
	Region string `yaml:"region" json:"region" env:"HELPDESK_DYNAMO_REGION"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"HELPDESK_DYNAMO_ENDPOINT"`
}

// Validate validates DynamoDB configuration.
func (cfg DynamoConfig) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Table, validation.Required),
	)
}

const (
	dynamoKeyAttr     = "pk"
	dynamoValueAttr   = "val"
	dynamoCounterAttr = "n"
	dynamoExpiresAttr = "expires_at"
)

// dynamoAPI is the part of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore is a KeyValueStore on a DynamoDB table.
// Expiry is stored as a unix timestamp in "expires_at": enable table TTL on that attribute
// to purge old items, reads ignore expired items on their own.
type DynamoStore struct {
	api   dynamoAPI
	table string
	now   func() time.Time
}

// NewDynamoStore loads the default AWS config and returns a store for the configured table.
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errm.Wrap(err, "load aws config")
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newDynamoStore(client, cfg.Table)
}

func newDynamoStore(api dynamoAPI, table string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb table name must not be empty")
	}
	return &DynamoStore{api: api, table: table, now: time.Now}, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", errm.Wrap(err, "get item", "key", key)
	}
	if out == nil || len(out.Item) == 0 || s.expired(out.Item) {
		return "", ErrNotFound
	}
	if v, ok := out.Item[dynamoValueAttr].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	if n, ok := out.Item[dynamoCounterAttr].(*types.AttributeValueMemberN); ok {
		return n.Value, nil
	}
	return "", ErrNotFound
}

func (s *DynamoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(key, value, ttl),
	})
	if err != nil {
		return errm.Wrap(err, "put item", "key", key)
	}
	return nil
}

// SetIfAbsent puts the item only if there is no live item with the same key.
func (s *DynamoStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                s.item(key, value, ttl),
		ConditionExpression: aws.String("attribute_not_exists(#pk) OR (attribute_exists(#exp) AND #exp < :now)"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  dynamoKeyAttr,
			"#exp": dynamoExpiresAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberAttr(s.now().Unix()),
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, errm.Wrap(err, "put item if absent", "key", key)
	}
	return true, nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(key),
	})
	if err != nil {
		return errm.Wrap(err, "delete item", "key", key)
	}
	return nil
}

// Increment adds one to the counter attribute, creating the item if needed.
func (s *DynamoStore) Increment(ctx context.Context, key string) (int64, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(key),
		UpdateExpression:          aws.String("ADD #n :one"),
		ExpressionAttributeNames:  map[string]string{"#n": dynamoCounterAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": numberAttr(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, errm.Wrap(err, "update item", "key", key)
	}
	n, ok := out.Attributes[dynamoCounterAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errm.New("counter attribute is missing", "key", key)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, errm.Wrap(err, "parse counter", "key", key)
	}
	return v, nil
}

func (s *DynamoStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoStore) item(key, value string, ttl time.Duration) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamoKeyAttr:   &types.AttributeValueMemberS{Value: key},
		dynamoValueAttr: &types.AttributeValueMemberS{Value: value},
	}
	if ttl > 0 {
		item[dynamoExpiresAttr] = numberAttr(s.now().Add(ttl).Unix())
	}
	return item
}

func (s *DynamoStore) expired(item map[string]types.AttributeValue) bool {
	exp, ok := item[dynamoExpiresAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(exp.Value, 10, 64)
	if err != nil {
		return false
	}
	return ts <= s.now().Unix()
}

func numberAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
