// Package objectstore publishes finished exports to MinIO so they can be
// served outside the host that rendered them.
package objectstore

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, localPath, key string) error
	Remove(ctx context.Context, key string) error
}

type minioPublisher struct {
	client *minio.Client
	bucket string
}

func NewMinIO(client *minio.Client, bucket string) Publisher {
	return &minioPublisher{client: client, bucket: bucket}
}

func (p *minioPublisher) Publish(ctx context.Context, localPath, key string) error {
	key = strings.ReplaceAll(key, "\\", "/")
	info, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("object_key", key).Int64("size", info.Size).Msg("export published")
	return nil
}

func (p *minioPublisher) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{})
}

// ContentType derives the upload content type from the container extension.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
