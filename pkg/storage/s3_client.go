package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3-backed object store
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Prefix          string `json:"prefix"`
	Endpoint        string `json:"endpoint"`
	UsePathStyle    bool   `json:"use_path_style"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	PublicBaseURL   string `json:"public_base_url"`
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores document blobs in a single bucket
type S3Store struct {
	uploader objectUploader
	deleter  objectDeleter
	config   S3Config
	now      func() time.Time
}

// NewS3Client builds an S3 client from the default AWS credential chain,
// optionally overridden by static keys and a custom endpoint (MinIO, LocalStack).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Store creates an object store on top of client
func NewS3Store(client *s3.Client, cfg S3Config) *S3Store {
	return newS3Store(manager.NewUploader(client), client, cfg)
}

func newS3Store(uploader objectUploader, deleter objectDeleter, cfg S3Config) *S3Store {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3Store{
		uploader: uploader,
		deleter:  deleter,
		config:   cfg,
		now:      time.Now,
	}
}

func (s *S3Store) Upload(ctx context.Context, blob []byte, contentType string) (*Object, error) {
	ct, err := NormalizeContentType(contentType)
	if err != nil {
		return nil, &StorageError{Op: "upload", Err: err}
	}
	if len(blob) == 0 {
		return nil, &StorageError{Op: "upload", Err: ErrEmptyObject}
	}

	key := GenerateStorageID(s.config.Prefix, ct, s.now())
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(blob),
		ContentType:   aws.String(ct),
		ContentLength: aws.Int64(int64(len(blob))),
	})
	if err != nil {
		return nil, &StorageError{Op: "upload", StorageID: key, Err: err}
	}

	url := out.Location
	if s.config.PublicBaseURL != "" {
		url = strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}

	return &Object{
		URL:         url,
		StorageID:   key,
		ContentType: ct,
		Size:        int64(len(blob)),
	}, nil
}

// Delete removes the object. S3 answers deletes of absent keys with success,
// which gives the required idempotence; ids this store could never have issued
// are rejected up front.
func (s *S3Store) Delete(ctx context.Context, storageID string) error {
	if err := ValidateStorageID(s.config.Prefix, storageID); err != nil {
		return &StorageError{Op: "delete", StorageID: storageID, Err: err}
	}

	_, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(storageID),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return &StorageError{Op: "delete", StorageID: storageID, Err: err}
	}
	return nil
}
