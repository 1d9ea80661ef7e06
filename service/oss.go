package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"ShortsComposer-server/config"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 72 * time.Hour

// MinIOPublisher 把成片上传到 MinIO，返回预签名 URL（配置了 Domain 时返回公开地址）
type MinIOPublisher struct {
	client *minio.Client
	bucket string
	prefix string
	domain string
	log    *log.Helper
}

// NewMinIOPublisher 初始化 MinIO 连接
func NewMinIOPublisher(cfg config.Config, logger log.Logger) (*MinIOPublisher, error) {
	mc := cfg.MinIO
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	return &MinIOPublisher{
		client: client,
		bucket: mc.Bucket,
		prefix: "videos",
		domain: strings.TrimRight(mc.Domain, "/"),
		log:    log.NewHelper(log.With(logger, "module", "service/minio")),
	}, nil
}

func (p *MinIOPublisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("成片文件不可读: %w", err)
	}

	// 确保 Bucket 存在
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return "", fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		p.log.WithContext(ctx).Infof("Bucket '%s' 已创建", p.bucket)
	}

	key := path.Join(p.prefix, objectName)
	_, err = p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return "", fmt.Errorf("上传 MinIO 失败: %w", err)
	}
	p.log.WithContext(ctx).Infof("文件已上传: %s/%s", p.bucket, key)

	if p.domain != "" {
		return fmt.Sprintf("%s/%s/%s", p.domain, p.bucket, key), nil
	}
	presignedURL, err := p.client.PresignedGetObject(ctx, p.bucket, key, presignExpiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presignedURL.String(), nil
}
