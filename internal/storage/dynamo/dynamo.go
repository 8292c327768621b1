// Package dynamo stores results in a DynamoDB table keyed by payment_hash.
// The table should have TTL enabled on the "ttl" attribute; expired items
// are also filtered on read because DynamoDB deletes them lazily.
package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fulmine-labs/sparks/internal/storage"
)

type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

func New(ctx context.Context, table, region string) (*Store, error) {
	if table == "" {
		return nil, fmt.Errorf("must set dynamodb_table")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return NewWithAPI(dynamodb.NewFromConfig(cfg), table), nil
}

func NewWithAPI(api API, table string) *Store {
	return &Store{
		api:   api,
		table: table,
		now:   time.Now,
	}
}

type Store struct {
	api   API
	table string
	now   func() time.Time
}

func (s *Store) Put(ctx context.Context, r storage.Result) error {
	if err := storage.ValidateHash(r.PaymentHash); err != nil {
		return err
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      marshalResult(r),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %v: %w", r.PaymentHash, err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*storage.Result, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"payment_hash": &types.AttributeValueMemberS{Value: paymentHash},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %v: %w", paymentHash, err)
	}
	if len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}

	r, err := unmarshalResult(out.Item)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}

	return r, nil
}

func marshalResult(r storage.Result) map[string]types.AttributeValue {
	images := make([]types.AttributeValue, len(r.Images))
	for i, img := range r.Images {
		if img == nil {
			images[i] = &types.AttributeValueMemberNULL{Value: true}
			continue
		}
		images[i] = &types.AttributeValueMemberB{Value: img}
	}

	meta := make(map[string]types.AttributeValue, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = &types.AttributeValueMemberS{Value: v}
	}

	return map[string]types.AttributeValue{
		"payment_hash": &types.AttributeValueMemberS{Value: r.PaymentHash},
		"images":       &types.AttributeValueMemberL{Value: images},
		"metadata":     &types.AttributeValueMemberM{Value: meta},
		"created_at":   &types.AttributeValueMemberS{Value: r.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"expires_at":   &types.AttributeValueMemberS{Value: r.ExpiresAt.UTC().Format(time.RFC3339Nano)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(r.ExpiresAt.Unix(), 10)},
	}
}

func unmarshalResult(item map[string]types.AttributeValue) (*storage.Result, error) {
	var r storage.Result

	hash, ok := item["payment_hash"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("dynamodb: item without payment_hash")
	}
	r.PaymentHash = hash.Value

	if list, ok := item["images"].(*types.AttributeValueMemberL); ok {
		r.Images = make([][]byte, len(list.Value))
		for i, v := range list.Value {
			if b, ok := v.(*types.AttributeValueMemberB); ok {
				r.Images[i] = b.Value
			}
		}
	}

	if m, ok := item["metadata"].(*types.AttributeValueMemberM); ok && len(m.Value) > 0 {
		r.Metadata = make(map[string]string, len(m.Value))
		for k, v := range m.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				r.Metadata[k] = s.Value
			}
		}
	}

	var err error
	if r.CreatedAt, err = parseTime(item, "created_at"); err != nil {
		return nil, err
	}
	if r.ExpiresAt, err = parseTime(item, "expires_at"); err != nil {
		return nil, err
	}

	return &r, nil
}

func parseTime(item map[string]types.AttributeValue, key string) (time.Time, error) {
	v, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamodb: %v: %w", key, err)
	}
	return t, nil
}
