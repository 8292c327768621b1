package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fulmine-labs/sparks/internal/storage"
)

const defaultPrefix = "results"

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// New returns a Store writing one JSON object per result under
// <bucket>/results/. Retention is left to a bucket lifecycle rule; reads
// also honour the stored expiry.
func New(ctx context.Context, bucket, region string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("must set s3_bucket")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return NewWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

func NewWithAPI(api S3API, bucket string) *Store {
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: defaultPrefix,
		now:    time.Now,
	}
}

type Store struct {
	api    S3API
	bucket string
	prefix string
	now    func() time.Time
}

func (s *Store) Put(ctx context.Context, r storage.Result) error {
	if err := storage.ValidateHash(r.PaymentHash); err != nil {
		return err
	}

	data, err := storage.Encode(r)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(r.PaymentHash)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if !r.ExpiresAt.IsZero() {
		input.Expires = aws.Time(r.ExpiresAt)
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put %v: %w", r.PaymentHash, err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*storage.Result, error) {
	if err := storage.ValidateHash(paymentHash); err != nil {
		return nil, storage.ErrNotFound
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(paymentHash)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %v: %w", paymentHash, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %v: %w", paymentHash, err)
	}

	r, err := storage.Decode(data)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}

	return r, nil
}

func (s *Store) key(paymentHash string) string {
	return path.Join(s.prefix, paymentHash+".json")
}
