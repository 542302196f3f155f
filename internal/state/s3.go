package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	logx "ipwatch/pkg/logx"
)

const defaultS3Key = "ipwatch/state.json"

// objectAPI is the slice of the S3 client the store needs.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Store keeps the record as one object. PutObject replaces the object
// whole, so a failed upload leaves the previous version in place.
type s3Store struct {
	client objectAPI
	bucket string
	key    string
	log    logx.Logger
}

func openS3(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("state.bucket is required for s3 driver")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Key, log), nil
}

func newS3Store(client objectAPI, bucket, key string, log logx.Logger) *s3Store {
	if strings.TrimSpace(key) == "" {
		key = defaultS3Key
	}
	return &s3Store{client: client, bucket: bucket, key: key, log: log}
}

func (s *s3Store) Load(ctx context.Context) (Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Record{}.Clone(), nil
		}
		return Record{}, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return decodeRecord(b)
}

func (s *s3Store) Save(ctx context.Context, r Record) error {
	b, err := encodeRecord(r)
	if err != nil {
		return &PersistenceError{Driver: "s3", Op: "encode", Err: err}
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &s.key,
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return &PersistenceError{Driver: "s3", Op: "put", Err: err}
	}
	return nil
}

func (s *s3Store) Close() error { return nil }
