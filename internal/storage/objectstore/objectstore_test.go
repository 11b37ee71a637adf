package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestFSStore_PutGet(t *testing.T) {
	t.Parallel()

	store := NewFSStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "feeds/group-1.xml", "application/xml", strings.NewReader("<yml_catalog/>")))

	body, info, err := store.Get(ctx, "feeds/group-1.xml")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "<yml_catalog/>", string(data))
	require.EqualValues(t, len(data), info.Size)
	require.False(t, info.LastModified.IsZero())

	require.NoError(t, store.Delete(ctx, "feeds/group-1.xml"))
	_, _, err = store.Get(ctx, "feeds/group-1.xml")
	require.ErrorIs(t, err, domain.ErrBlobNotFound)
	require.NoError(t, store.Delete(ctx, "feeds/group-1.xml"))
}

func TestFSStore_MissingAndEscapingKeys(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewFSStore(root)
	ctx := context.Background()

	_, _, err := store.Get(ctx, "sitemap/absent.xml")
	require.ErrorIs(t, err, domain.ErrBlobNotFound)

	require.NoError(t, store.Put(ctx, "../../outside.txt", "text/plain", strings.NewReader("x")))
	body, _, err := store.Get(ctx, "outside.txt")
	require.NoError(t, err)
	_ = body.Close()

	require.Error(t, store.Put(ctx, "  ", "text/plain", strings.NewReader("x")))
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	now := time.Now()
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
		LastModified:  &now,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_PrefixAndNotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store := newS3Store(fake, "bucket", "/media/")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "/sitemap/moskva.example.com.xml", "application/xml", strings.NewReader("<urlset/>")))
	require.Contains(t, fake.objects, "media/sitemap/moskva.example.com.xml")

	body, info, err := store.Get(ctx, "sitemap/moskva.example.com.xml")
	require.NoError(t, err)
	_ = body.Close()
	require.Equal(t, "application/xml", info.ContentType)
	require.EqualValues(t, len("<urlset/>"), info.Size)

	_, _, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrBlobNotFound)

	require.NoError(t, store.Delete(ctx, "sitemap/moskva.example.com.xml"))
	require.NotContains(t, fake.objects, "media/sitemap/moskva.example.com.xml")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)
}
