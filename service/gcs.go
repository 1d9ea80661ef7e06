package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"ShortsComposer-server/config"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
)

// GCSPublisher 把成片上传到 Google Cloud Storage，使用默认凭据
type GCSPublisher struct {
	client *storage.Client
	bucket string
	prefix string
	log    *log.Helper
}

func NewGCSPublisher(ctx context.Context, cfg config.Config, logger log.Logger) (*GCSPublisher, error) {
	if cfg.GCS.Bucket == "" {
		return nil, errors.New("gcs publisher: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	return &GCSPublisher{
		client: client,
		bucket: cfg.GCS.Bucket,
		prefix: cfg.GCS.Prefix,
		log:    log.NewHelper(log.With(logger, "module", "service/gcs")),
	}, nil
}

func (p *GCSPublisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open final video: %w", err)
	}
	defer f.Close()

	key := path.Join(p.prefix, objectName)
	obj := p.client.Bucket(p.bucket).Object(key)
	err = copyToObject(ctx, func(ctx context.Context) io.WriteCloser {
		w := obj.NewWriter(ctx)
		w.ContentType = "video/mp4"
		return w
	}, f)
	if err != nil {
		p.log.WithContext(ctx).Errorf("gcs upload failed: bucket=%s object=%s err=%v", p.bucket, key, err)
		return "", fmt.Errorf("gs://%s/%s: %w", p.bucket, key, err)
	}
	return publicObjectURL(p.bucket, key), nil
}

// copyToObject 写入失败时先取消 writer 的 ctx 再 Close，对象不会被提交
func copyToObject(ctx context.Context, open func(ctx context.Context) io.WriteCloser, src io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(ctx)
	if _, err := io.Copy(w, src); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (p *GCSPublisher) Close() error {
	return p.client.Close()
}

func publicObjectURL(bucket, key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}
