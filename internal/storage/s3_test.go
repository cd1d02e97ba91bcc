package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects  map[string]string
	failures int
	gets     int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 slow down")
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func newTestS3(f *fakeS3) *S3Storage {
	s := NewS3StorageWithClient(f, "bucket")
	s.baseBackoff = time.Millisecond
	return s
}

func TestS3Storage_DownloadRetries(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"ds/data.json": "[]"}, failures: 2}
	s := newTestS3(f)

	dst := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, s.Download(context.Background(), "ds/data.json", dst))
	assert.Equal(t, 3, f.gets)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestS3Storage_DownloadGivesUp(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"k": "v"}, failures: 10}
	s := newTestS3(f)

	err := s.Download(context.Background(), "k", filepath.Join(t.TempDir(), "k"))
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, 4, f.gets, "initial attempt plus three retries")
}

func TestS3Storage_NotFoundIsNotRetried(t *testing.T) {
	f := &fakeS3{objects: map[string]string{}}
	s := newTestS3(f)

	err := s.Download(context.Background(), "missing", filepath.Join(t.TempDir(), "m"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, 1, f.gets)
}

func TestS3Storage_ExistsAndList(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"ds/a.json": "a", "other/b.json": "b"}}
	s := newTestS3(f)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "ds/a.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "ds/nope.json")
	require.NoError(t, err)
	assert.False(t, ok)

	objects, err := s.ListObjects(ctx, "ds/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ds/a.json"}, objects)
}

func TestS3Storage_FetchIntegration(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"ds/data.json": "[]"}}
	s := newTestS3(f)

	res, err := Fetch(context.Background(), s, "ds", t.TempDir(), "data.json")
	require.NoError(t, err)
	assert.Equal(t, "ds/data.json", res.ObjectPath)
}
