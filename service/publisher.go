package service

import (
	"context"
	"fmt"

	"ShortsComposer-server/composer"
	"ShortsComposer-server/config"

	"github.com/go-kratos/kratos/v2/log"
)

var baseLogger log.Logger = log.DefaultLogger

// SetLogger 设置 service 包使用的 logger，在 main 中调用
func SetLogger(l log.Logger) {
	if l != nil {
		baseLogger = l
	}
}

func logHelper() *log.Helper {
	return log.NewHelper(log.With(baseLogger, "module", "service"))
}

// NewPublisher 按 publisher.backend 构造发布器；none 时返回 nil
func NewPublisher(ctx context.Context, cfg config.Config, logger log.Logger) (composer.Publisher, error) {
	switch cfg.Publisher.Backend {
	case "minio":
		p, err := NewMinIOPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gcs":
		p, err := NewGCSPublisher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Publisher.Backend)
	}
}
