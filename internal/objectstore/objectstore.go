// Package objectstore uploads user media to S3 or MinIO and returns its public URL.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// ErrBucketRequired is returned when uploads are enabled without a bucket.
var ErrBucketRequired = errors.New("objectstore: S3_BUCKET is required")

// Store writes one object and returns the URL clients use to fetch it.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

func unavailable(op string, err error) error {
	return galleryerrors.NewUnavailableError(galleryerrors.ServiceObjects, fmt.Errorf("%s: %w", op, err))
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// Open builds the configured store. It returns (nil, nil) when OBJECT_STORE is empty (uploads disabled).
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ObjectStore {
	case "":
		//nolint:nilnil // uploads disabled
		return nil, nil
	case config.ObjectStoreS3:
		if cfg.S3Bucket == "" {
			return nil, ErrBucketRequired
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		return NewS3Store(manager.NewUploader(s3.NewFromConfig(awsCfg)), cfg.S3Bucket, cfg.S3PublicBaseURL), nil
	case config.ObjectStoreMinIO:
		if cfg.S3Bucket == "" {
			return nil, ErrBucketRequired
		}

		client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOUseSSL,
			Region: cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}

		publicURL := cfg.MinIOPublicURL
		if publicURL == "" {
			scheme := "http"
			if cfg.MinIOUseSSL {
				scheme = "https"
			}

			publicURL = (&url.URL{Scheme: scheme, Host: cfg.MinIOEndpoint, Path: "/" + cfg.S3Bucket}).String()
		}

		return NewMinIOStore(client, cfg.S3Bucket, publicURL), nil
	default:
		return nil, config.ErrInvalidObjectStore
	}
}

// Uploader is the subset of manager.Uploader used by S3Store.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store uploads through the S3 transfer manager, which switches to multipart for large videos.
type S3Store struct {
	uploader      Uploader
	bucket        string
	publicBaseURL string
}

// NewS3Store creates an S3Store. With an empty publicBaseURL the uploader's Location is returned.
func NewS3Store(uploader Uploader, bucket, publicBaseURL string) *S3Store {
	return &S3Store{uploader: uploader, bucket: bucket, publicBaseURL: publicBaseURL}
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", unavailable("s3 upload", err)
	}

	if s.publicBaseURL != "" {
		return joinURL(s.publicBaseURL, key), nil
	}

	return out.Location, nil
}

// MinIOClient is the subset of minio.Client used by MinIOStore.
type MinIOClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOStore uploads to a MinIO (or other S3-compatible) bucket.
type MinIOStore struct {
	client    MinIOClient
	bucket    string
	publicURL string
}

// NewMinIOStore creates a MinIOStore. publicURL is the URL prefix of the bucket.
func NewMinIOStore(client MinIOClient, bucket, publicURL string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, publicURL: publicURL}
}

// Put uploads body under key.
func (s *MinIOStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", unavailable("minio put", err)
	}

	return joinURL(s.publicURL, key), nil
}
