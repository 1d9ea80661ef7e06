package main

import (
	"context"
	"os"

	"ShortsComposer-server/composer"
	"ShortsComposer-server/config"
	"ShortsComposer-server/logger"
	"ShortsComposer-server/models"
	"ShortsComposer-server/routers"
	"ShortsComposer-server/routers/api"
	"ShortsComposer-server/service"

	"github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	config.InitConfig()
	cfg := config.AppConfig

	lg := logger.New(logger.Config{Service: cfg.Log.Service, Level: cfg.Log.Level, Output: os.Stdout})
	helper := log.NewHelper(lg)
	service.SetLogger(lg)
	api.SetLogger(lg)
	helper.Infof("Server starting on port %s", cfg.Server.Port)

	if err := models.InitDB(cfg.MySQL.DSN); err != nil {
		helper.Fatalf("database init failed: %v", err)
	}
	helper.Info("数据库连接成功 (Native SQL + GORM)")

	service.InitQueue()
	helper.Info("Queue initialized")

	pub, err := service.NewPublisher(context.Background(), *cfg, lg)
	if err != nil {
		helper.Fatalf("publisher init failed: %v", err)
	}
	helper.Infof("Publisher initialized: %s", cfg.Publisher.Backend)

	comp := composer.NewFromConfig(cfg.Composer, nil, lg)
	processor := service.NewProcessor(models.GormDB, comp, pub, cfg.TextOverlay, lg)
	processor.StartProcessor(cfg.Worker.Concurrency)

	r := routers.InitRouter()
	if err := r.Run(cfg.Server.Port); err != nil {
		helper.Fatalf("http server stopped: %v", err)
	}
}
