package object

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// Storage provides an S3-compatible storage backend using MinIO.
// Blobs live flat under an optional key prefix in a single bucket.
type Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName, prefix string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
		prefix:     normalizePrefix(prefix),
	}, nil
}

// Save uploads src under name and returns the stored size.
func (s *Storage) Save(ctx context.Context, name string, src io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucketName, s.key(name), src, -1, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save file %s: %w", name, err)
	}

	return info.Size, nil
}

// Open retrieves the blob and returns a reader together with its info.
func (s *Storage) Open(ctx context.Context, name string) (io.ReadCloser, model.BlobInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, model.BlobInfo{}, fmt.Errorf("failed to load file %s: %w", name, translate(err))
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, model.BlobInfo{}, fmt.Errorf("failed to stat file %s: %w", name, translate(err))
	}

	return obj, model.BlobInfo{Name: name, Size: st.Size, Regular: true, ModTime: st.LastModified}, nil
}

// Delete removes the blob from the bucket.
// S3 deletes are idempotent, so the object is stat'ed first to report a missing blob.
func (s *Storage) Delete(ctx context.Context, name string) error {
	key := s.key(name)

	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("failed to stat file %s: %w", name, translate(err))
	}

	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove file %s: %w", name, err)
	}

	return nil
}

// List enumerates the objects directly under the prefix.
// Nested prefixes are reported as non-regular entries.
func (s *Storage) List(ctx context.Context) ([]model.BlobInfo, error) {
	var blobs []model.BlobInfo

	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", s.bucketName, obj.Err)
		}

		name := strings.TrimPrefix(obj.Key, s.prefix)
		isDir := strings.HasSuffix(name, "/")

		blobs = append(blobs, model.BlobInfo{
			Name:    strings.TrimSuffix(name, "/"),
			Size:    obj.Size,
			Regular: !isDir,
			ModTime: obj.LastModified,
		})
	}

	return blobs, nil
}

func (s *Storage) key(name string) string {
	return s.prefix + name
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}

	return prefix + "/"
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// translate maps a missing-object response onto os.ErrNotExist.
func translate(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", os.ErrNotExist, err)
	}

	return err
}
