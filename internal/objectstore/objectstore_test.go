package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/galleryerrors"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	args := m.Called(ctx, input)

	out, _ := args.Get(0).(*manager.UploadOutput)

	return out, args.Error(1)
}

type mockMinIO struct {
	mock.Mock
}

func (m *mockMinIO) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucket, key, reader, size, opts)

	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, args.Error(0)
}

func TestS3Store_Put(t *testing.T) {
	isInput := mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "media" && *in.Key == "uploads/videos/a.mp4" && *in.ContentType == "video/mp4"
	})

	t.Run("public base url", func(t *testing.T) {
		up := new(mockUploader)
		up.On("Upload", mock.Anything, isInput).Return(&manager.UploadOutput{Location: "https://s3/media/uploads/videos/a.mp4"}, nil).Once()

		url, err := NewS3Store(up, "media", "https://cdn.example.com/").
			Put(context.Background(), "uploads/videos/a.mp4", "video/mp4", strings.NewReader("x"), 1)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/uploads/videos/a.mp4", url)
		up.AssertExpectations(t)
	})

	t.Run("location fallback", func(t *testing.T) {
		up := new(mockUploader)
		up.On("Upload", mock.Anything, isInput).Return(&manager.UploadOutput{Location: "https://s3/media/uploads/videos/a.mp4"}, nil).Once()

		url, err := NewS3Store(up, "media", "").
			Put(context.Background(), "uploads/videos/a.mp4", "video/mp4", strings.NewReader("x"), 1)
		require.NoError(t, err)
		assert.Equal(t, "https://s3/media/uploads/videos/a.mp4", url)
	})

	t.Run("failure is unavailable", func(t *testing.T) {
		up := new(mockUploader)
		up.On("Upload", mock.Anything, isInput).Return(nil, errors.New("connection reset")).Once()

		_, err := NewS3Store(up, "media", "").
			Put(context.Background(), "uploads/videos/a.mp4", "video/mp4", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, galleryerrors.ErrObjectStoreUnavailable)
	})
}

func TestMinIOStore_Put(t *testing.T) {
	client := new(mockMinIO)
	client.On("PutObject", mock.Anything, "media", "uploads/images/b.png", mock.Anything, int64(3),
		minio.PutObjectOptions{ContentType: "image/png"}).Return(nil).Once()

	url, err := NewMinIOStore(client, "media", "http://localhost:9000/media").
		Put(context.Background(), "uploads/images/b.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/media/uploads/images/b.png", url)
	client.AssertExpectations(t)
}

func TestMinIOStore_PutFailure(t *testing.T) {
	client := new(mockMinIO)
	client.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("503")).Once()

	_, err := NewMinIOStore(client, "media", "http://m").Put(context.Background(), "k", "image/png", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, galleryerrors.ErrObjectStoreUnavailable)
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = Open(context.Background(), &config.Config{ObjectStore: config.ObjectStoreS3})
	require.ErrorIs(t, err, ErrBucketRequired)

	store, err = Open(context.Background(), &config.Config{
		ObjectStore:   config.ObjectStoreMinIO,
		S3Bucket:      "media",
		S3Region:      "us-east-1",
		MinIOEndpoint: "localhost:9000",
	})
	require.NoError(t, err)
	require.IsType(t, &MinIOStore{}, store)
	assert.Equal(t, "http://localhost:9000/media", store.(*MinIOStore).publicURL)
}
