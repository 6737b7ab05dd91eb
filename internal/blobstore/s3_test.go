package blobstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"vidconv/internal/blobstore"
	"vidconv/internal/services"
)

type fakeS3 struct {
	objects     map[string]int64
	deleteCalls [][]string
	failKey     string
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size), ETag: aws.String(`"abc123"`)}, nil
}

func (f *fakeS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, &s3types.NoSuchKey{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.objects[aws.ToString(in.Key)] = aws.ToInt64(in.ContentLength)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	out := &s3.DeleteObjectsOutput{}
	var batch []string
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		batch = append(batch, key)
		if key == f.failKey {
			out.Errors = append(out.Errors, s3types.Error{Key: obj.Key, Message: aws.String("AccessDenied")})
			continue
		}
		delete(f.objects, key)
		out.Deleted = append(out.Deleted, s3types.DeletedObject{Key: obj.Key})
	}
	f.deleteCalls = append(f.deleteCalls, batch)
	return out, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range f.objects {
		keys = append(keys, key)
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestS3DeleteManyBatchesAndReportsFailures(t *testing.T) {
	fake := &fakeS3{objects: map[string]int64{}}
	var keys []string
	for i := 0; i < 2500; i++ {
		key := fmt.Sprintf("input/t/%d", i)
		fake.objects[key] = 1
		keys = append(keys, key)
	}
	keys = append(keys, keys[0])
	fake.failKey = keys[10]

	store := blobstore.NewS3WithClient(fake, nil, "bucket")
	deleted, err := store.DeleteMany(context.Background(), keys)
	if len(fake.deleteCalls) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(fake.deleteCalls))
	}
	if len(fake.deleteCalls[0]) != 1000 || len(fake.deleteCalls[2]) != 500 {
		t.Fatalf("unexpected batch sizes: %d %d", len(fake.deleteCalls[0]), len(fake.deleteCalls[2]))
	}
	if deleted != 2499 {
		t.Fatalf("expected 2499 deleted, got %d", deleted)
	}
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error for partial failure, got %v", err)
	}
}

func TestS3StatAndOpenNotFound(t *testing.T) {
	fake := &fakeS3{objects: map[string]int64{"output/t/f/a_h265.mp4": 42}}
	store := blobstore.NewS3WithClient(fake, nil, "bucket")
	ctx := context.Background()

	info, err := store.Stat(ctx, "output/t/f/a_h265.mp4")
	if err != nil || info == nil || info.Size != 42 || info.ETag != "abc123" {
		t.Fatalf("unexpected stat: %+v %v", info, err)
	}
	missing, err := store.Stat(ctx, "output/none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing object, got %+v %v", missing, err)
	}
	if _, err := store.Open(ctx, "output/none", 0); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on open, got %v", err)
	}
	if _, err := store.PresignDownload(ctx, "x", 0); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without presigner, got %v", err)
	}
	if got := store.URI("input/a"); got != "s3://bucket/input/a" {
		t.Fatalf("unexpected uri %q", got)
	}
}
