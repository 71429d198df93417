package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

type notFoundErr struct{}

func (notFoundErr) Error() string              { return "NoSuchKey" }
func (notFoundErr) ErrorCode() string          { return "NoSuchKey" }
func (notFoundErr) ErrorMessage() string       { return "not found" }
func (notFoundErr) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, notFoundErr{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Store_PutGetRoundTrip(t *testing.T) {
	store := NewS3Store(newFakeS3(), "bucket", "prefix")
	ctx := context.Background()

	if err := store.Put(ctx, "key", bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("got %q", data)
	}

	ok, err := store.Exists(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}

	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = store.Get(ctx, "key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
