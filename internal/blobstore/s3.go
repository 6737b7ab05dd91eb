package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"vidconv/internal/services"
)

// deleteBatchSize is the DeleteObjects per-request limit.
const deleteBatchSize = 1000

// S3API is the subset of the S3 client the store calls.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner signs object URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 stores blobs in one bucket.
type S3 struct {
	client    S3API
	presigner Presigner
	bucket    string
}

// NewS3 builds an S3 store from an SDK configuration.
func NewS3(cfg aws.Config, bucket string) *S3 {
	client := s3.NewFromConfig(cfg)
	return &S3{client: client, presigner: s3.NewPresignClient(client), bucket: bucket}
}

// NewS3WithClient wires explicit clients, mainly for tests.
func NewS3WithClient(client S3API, presigner Presigner, bucket string) *S3 {
	return &S3{client: client, presigner: presigner, bucket: bucket}
}

// Bucket returns the configured bucket name.
func (s *S3) Bucket() string { return s.bucket }

func (s *S3) URI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3) PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", services.Wrap(services.ErrConfiguration, "blobstore", "presign upload", "no presigner configured", nil)
	}
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "presign upload", key, err)
	}
	return req.URL, nil
}

func (s *S3) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", services.Wrap(services.ErrConfiguration, "blobstore", "presign download", "no presigner configured", nil)
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "presign download", key, err)
	}
	return req.URL, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return keys, services.Wrap(services.ErrStorage, "blobstore", "list", prefix, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); key != "" {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (s *S3) DeleteMany(ctx context.Context, keys []string) (int, error) {
	keys = Dedupe(keys)
	deleted := 0
	var errs []error
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deleted += len(out.Deleted)
		for _, failure := range out.Errors {
			errs = append(errs, fmt.Errorf("%s: %s", aws.ToString(failure.Key), aws.ToString(failure.Message)))
		}
	}
	if len(errs) > 0 {
		return deleted, services.Wrap(services.ErrStorage, "blobstore", "delete", fmt.Sprintf("%d of %d keys failed", len(keys)-deleted, len(keys)), errors.Join(errs...))
	}
	return deleted, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, services.Wrap(services.ErrNotFound, "blobstore", "open", key, err)
		}
		return nil, services.Wrap(services.ErrStorage, "blobstore", "open", key, err)
	}
	return out.Body, nil
}

func (s *S3) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStorage, "blobstore", "stat", key, err)
	}
	return &ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
