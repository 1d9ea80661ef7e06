package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ShortsComposer-server/composer"
	"ShortsComposer-server/models"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// 运行中合成的取消注册表（taskID -> cancelFunc）
var runCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterRunCancel 注册合成运行的 cancelFunc（由 HandleComposeTask 在开始合成时调用）
func RegisterRunCancel(taskID string, cancel context.CancelFunc) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	runCancelRegistry.m[taskID] = cancel
}

// UnregisterRunCancel 注销 cancelFunc（合成结束时调用）
func UnregisterRunCancel(taskID string) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	delete(runCancelRegistry.m, taskID)
}

// CancelRun 外部调用以取消正在执行的合成，返回是否实际找到并取消
func CancelRun(taskID string) bool {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	if cancel, ok := runCancelRegistry.m[taskID]; ok {
		cancel()
		delete(runCancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 处理队列中的合成任务
type Processor struct {
	DB        *gorm.DB
	Composer  *composer.Composer
	Publisher composer.Publisher // nil 表示只生成本地文件
	Overlay   models.TextOverlayConfig
	log       *log.Helper
}

func NewProcessor(db *gorm.DB, comp *composer.Composer, pub composer.Publisher, overlay models.TextOverlayConfig, logger log.Logger) *Processor {
	return &Processor{
		DB:        db,
		Composer:  comp,
		Publisher: pub,
		Overlay:   overlay,
		log:       log.NewHelper(log.With(logger, "module", "service/processor")),
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		redisOpt(),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeComposeTask, p.HandleComposeTask)

	p.log.Infof("Starting Task Processor with concurrency %d, engine %s...", concurrency, p.Composer.Engine().Name())
	go func() {
		if err := srv.Run(mux); err != nil {
			p.log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleComposeTask 核心处理逻辑
func (p *Processor) HandleComposeTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetTaskByIDGorm(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v", err)
	}
	if task.Status == models.TaskStatusCancelled {
		p.log.WithContext(ctx).Infof("Task %s was cancelled before it started", task.ID)
		return nil
	}
	params := task.Parameters.Compose
	if params == nil {
		_, _ = task.Finish(p.DB, models.TaskStatusFailed, nil, "missing compose parameters")
		return fmt.Errorf("task %s has no compose parameters: %w", task.ID, asynq.SkipRetry)
	}

	p.log.WithContext(ctx).Infof("Processing Task: %s | Type: %s | Content: %s", task.ID, task.Type, params.ContentId)
	started, err := task.Start(p.DB)
	if err != nil {
		return fmt.Errorf("start task %s: %w", task.ID, err)
	}
	if !started {
		p.log.WithContext(ctx).Infof("Task %s is no longer pending, skip", task.ID)
		return nil
	}
	prevProjectStatus := models.ProjectStatusCreated
	if project, err := models.GetProjectByID(task.ProjectId); err == nil {
		prevProjectStatus = project.Status
	}
	if err := models.UpdateProjectStatus(task.ProjectId, models.ProjectStatusComposing); err != nil {
		p.log.WithContext(ctx).Warnf("更新项目状态失败: %v", err)
	}

	// 为本次合成创建可取消的子上下文并注册 cancel（外部 API 可通过 CancelRun 取消）
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	RegisterRunCancel(task.ID, cancel)
	defer UnregisterRunCancel(task.ID)
	// 注册之前到达的取消请求只改了数据库状态
	if cur, err := models.GetTaskByIDGorm(p.DB, task.ID); err == nil && cur.Status == models.TaskStatusCancelled {
		cancel()
	}

	req := composer.Request{
		ContentID: params.ContentId,
		Script:    params.Script,
		Assets:    params.Assets,
		Voiceover: params.Voiceover,
		Overlay:   ResolveOverlay(params.TextOverlay, p.Overlay),
		Progress:  newProgressReporter(p.DB, task, p.log).report,
	}
	video, details, err := p.Composer.Compose(runCtx, req)
	if err != nil {
		return p.fail(ctx, task, prevProjectStatus, err)
	}

	var publishErr error
	if p.Publisher != nil {
		publishErr = p.Composer.Publish(runCtx, params.ContentId, video, p.Publisher)
		if publishErr != nil {
			// 本地成片仍然有效，记录错误后继续落库
			p.log.WithContext(ctx).Errorf("发布成片失败: %v", publishErr)
		}
	}

	comp := models.NewComposition(task.ProjectId, task.ID, params.ContentId, video, details)
	if publishErr != nil {
		comp.PublishErr = publishErr.Error()
	}
	if err := models.CreateComposition(p.DB, comp); err != nil {
		p.log.WithContext(ctx).Errorf("保存合成记录失败: %v", err)
		_, _ = task.Finish(p.DB, models.TaskStatusFailed, nil, fmt.Sprintf("save composition: %v", err))
		_ = models.UpdateProjectStatus(task.ProjectId, models.ProjectStatusFailed)
		return fmt.Errorf("save composition: %w", err)
	}

	projectStatus := models.ProjectStatusComposed
	resourceURL := video.LocalPath
	if video.RemoteURL != "" {
		projectStatus = models.ProjectStatusPublished
		resourceURL = video.RemoteURL
	}
	if err := models.UpdateProjectVideo(task.ProjectId, projectStatus, video.Duration, video.RemoteURL, len(details.VisualTimings)); err != nil {
		p.log.WithContext(ctx).Warnf("回写项目成片信息失败: %v", err)
	}

	result := &models.TaskResult{ResourceType: "video", ResourceId: comp.ID, ResourceUrl: resourceURL}
	errMsg := ""
	if publishErr != nil {
		errMsg = publishErr.Error()
	}
	finished, err := task.Finish(p.DB, models.TaskStatusSuccess, result, errMsg)
	if err != nil {
		p.log.WithContext(ctx).Warnf("UpdateStatus finished failed: %v", err)
	}
	if err == nil && !finished {
		// 成片已落库，任务保留用户看到的 cancelled 状态
		p.log.WithContext(ctx).Infof("Task %s was cancelled while finishing, composition %s kept", task.ID, comp.ID)
		return nil
	}
	p.log.WithContext(ctx).Infof("Task %s completed successfully: %s (%.3fs)", task.ID, resourceURL, video.Duration)
	return nil
}

// fail 合成错误都是确定性的，不再重试
func (p *Processor) fail(ctx context.Context, task *models.Task, prevProjectStatus string, err error) error {
	if composer.KindOf(err) == composer.KindCanceled {
		p.log.WithContext(ctx).Infof("Task %s cancelled: %v", task.ID, err)
		_, _ = task.Finish(p.DB, models.TaskStatusCancelled, nil, err.Error())
		_ = models.UpdateProjectStatus(task.ProjectId, prevProjectStatus)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	p.log.WithContext(ctx).Errorf("[Error] 合成失败: %v", err)
	_, _ = task.Finish(p.DB, models.TaskStatusFailed, nil, err.Error())
	_ = models.UpdateProjectStatus(task.ProjectId, models.ProjectStatusFailed)
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// ResolveOverlay 请求中的叠加配置整体覆盖部署默认值
func ResolveOverlay(override *models.TextOverlayConfig, fallback models.TextOverlayConfig) models.TextOverlayConfig {
	if override != nil {
		return *override
	}
	return fallback
}

// progressReporter 把 composer 的进度回调写入 task.progress，只前进不后退
type progressReporter struct {
	mu   sync.Mutex
	db   *gorm.DB
	task *models.Task
	last int
	log  *log.Helper
}

func newProgressReporter(db *gorm.DB, task *models.Task, logger *log.Helper) *progressReporter {
	return &progressReporter{db: db, task: task, log: logger}
}

func (r *progressReporter) report(stage string, done, total int) {
	pct := ProgressPercent(done, total)
	r.mu.Lock()
	defer r.mu.Unlock()
	if pct <= r.last {
		return
	}
	r.last = pct
	if err := r.task.UpdateProgress(r.db, pct, fmt.Sprintf("%s %d/%d", stage, done, total)); err != nil {
		r.log.Warnf("更新任务进度失败: %v", err)
	}
}

// ProgressPercent 完成前最多报告 99，100 只在任务成功时写入
func ProgressPercent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	pct := done * 100 / total
	if pct > 99 {
		pct = 99
	}
	return pct
}
