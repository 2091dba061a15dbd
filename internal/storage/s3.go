package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// seams for tests
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) S3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Options configures NewS3.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; set for MinIO and other compatible servers
	AccessKey string // optional; falls back to the default credential chain
	SecretKey string
	SpoolDir  string // temp dir for buffering uploads; "" uses os.TempDir()
}

// S3Store keeps objects in an S3-compatible bucket. Uploads are spooled to a
// local temp file first so the SDK gets a seekable body with a known length
// and the size cap is enforced before anything reaches the bucket.
type S3Store struct {
	client   S3API
	bucket   string
	spoolDir string
}

// NewS3 builds an S3Store from static or default credentials.
func NewS3(ctx context.Context, opt S3Options) (*S3Store, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opt.Region)}
	if opt.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opt.AccessKey, opt.SecretKey, ""),
		))
	}
	cfg, err := loadDefaultAWSConfig(ctx, loaders...)
	if err != nil {
		return nil, err
	}
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opt.Endpoint != "" {
			o.BaseEndpoint = aws.String(opt.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(client, opt.Bucket, opt.SpoolDir), nil
}

// NewS3WithClient wires an existing client.
func NewS3WithClient(client S3API, bucket, spoolDir string) *S3Store {
	return &S3Store{client: client, bucket: bucket, spoolDir: spoolDir}
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, maxSize int64) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	spool, err := os.CreateTemp(s.spoolDir, "s3-spool-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	n, err := limitedCopy(ctx, spool, r, maxSize)
	if err != nil {
		return n, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Open implements Store.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, err
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete implements Store. S3 already treats deleting a missing key as
// success; NoSuchKey from compatible servers is folded into that.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return err
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
