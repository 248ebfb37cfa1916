package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cuemby/stash/pkg/types"
)

// s3PartSize and s3UploadConcurrency bound the memory one Put holds to
// (concurrency+1) parts regardless of object size.
const (
	s3PartSize          = 8 << 20
	s3UploadConcurrency = 2
)

// s3API is the subset of *s3.Client the backend uses
type s3API interface {
	s3.ListObjectsV2APIClient
	manager.UploadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend stores objects in an S3-compatible bucket under an optional prefix
type S3Backend struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend builds a client from descriptor options: bucket (required),
// region, endpoint (MinIO and other S3-compatible stores), prefix, and a
// static access_key/secret_key pair. Without static keys the default AWS
// credential chain is used.
func NewS3Backend(ctx context.Context, desc types.BackendDescriptor) (*S3Backend, error) {
	bucket := desc.Option("bucket", "")
	if bucket == "" {
		return nil, configErr("", "s3 backend requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(desc.Option("region", "us-east-1")),
	}
	if ak, sk := desc.Option("access_key", ""), desc.Option("secret_key", ""); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, desc.Option("session_token", "")),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, unavailable(types.BackendS3, "load config", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint := desc.Option("endpoint", ""); endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3BackendWithClient(s3.NewFromConfig(cfg, s3Opts...), bucket, desc.Option("prefix", "")), nil
}

func newS3BackendWithClient(client s3API, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = s3PartSize
			u.Concurrency = s3UploadConcurrency
		}),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func newS3Driver(ctx context.Context, desc types.BackendDescriptor) (Backend, error) {
	return NewS3Backend(ctx, desc)
}

func (s *S3Backend) Name() string { return types.BackendS3 }

func (s *S3Backend) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Backend) stripPrefix(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func (s *S3Backend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return ObjectInfo{}, s.classify("head", key, err)
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	full := s.objectKey(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, unavailable(types.BackendS3, "list "+prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:  s.stripPrefix(aws.ToString(obj.Key)),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (s *S3Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.classify("get", key, err)
	}
	return out.Body, nil
}

// Put streams the content. Anything larger than one part goes up as a
// multipart upload, which only becomes visible on completion and is aborted
// on failure.
func (s *S3Backend) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   r,
	})
	if err != nil {
		return unavailable(types.BackendS3, "put "+key, err)
	}
	return nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if err := s.classify("delete", key, err); errors.Is(err, ErrNotExist) {
			return nil
		}
		return unavailable(types.BackendS3, "delete "+key, err)
	}
	return nil
}

func (s *S3Backend) URI(key string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (s *S3Backend) Close() error { return nil }

func (s *S3Backend) classify(op, key string, err error) error {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	var re *awshttp.ResponseError
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return notExist(key)
	case errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound:
		return notExist(key)
	}
	return unavailable(types.BackendS3, op+" "+key, err)
}
