// Package composer 把分段静态图、整段旁白与文字叠加配置合成为一个竖屏成片。
package composer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"ShortsComposer-server/media"
	"ShortsComposer-server/models"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "ShortsComposer-server/composer"

// ProgressFunc 每完成一个步骤回调一次；可能被多个 goroutine 同时调用
type ProgressFunc func(stage string, done, total int)

// Request 一次合成的全部输入。Overlay 必须是调用方已解析好的完整配置。
type Request struct {
	ContentID string
	Script    []models.ScriptSegment
	Assets    []models.GeneratedAsset
	Voiceover models.VoiceoverResult
	Overlay   models.TextOverlayConfig
	Progress  ProgressFunc
}

type Options struct {
	Spec            media.OutputSpec
	ScratchRoot     string
	OutputDir       string
	Concurrency     int
	AlternateMotion bool
}

type Composer struct {
	engine media.Engine
	opts   Options
	log    *log.Helper
	tracer trace.Tracer
	now    func() time.Time
}

func New(engine media.Engine, opts Options, logger log.Logger) *Composer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Composer{
		engine: engine,
		opts:   opts,
		log:    log.NewHelper(log.With(logger, "module", "composer")),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

func (c *Composer) Engine() media.Engine { return c.engine }

// plan 校验通过后的运行计划
type plan struct {
	visuals        []models.VisualTiming
	intro          bool
	visualDuration float64
}

// Compose 执行一次完整合成。任何错误都是致命的；
// 无论成功、失败还是取消，返回前都会删除本次运行的临时目录。
func (c *Composer) Compose(ctx context.Context, req Request) (video *models.FinalVideo, details *models.CompositionDetails, err error) {
	ctx, span := c.tracer.Start(ctx, "compose", trace.WithAttributes(
		attribute.String("content_id", req.ContentID),
		attribute.String("engine", c.engine.Name()),
	))
	defer func() { endSpan(span, err) }()

	p, err := c.validate(req)
	if err != nil {
		return nil, nil, classify(req.ContentID, StageValidate, err)
	}

	arena, err := AcquireArena(c.opts.ScratchRoot, req.ContentID, len(p.visuals))
	if err != nil {
		return nil, nil, classify(req.ContentID, StageScratch, newError(KindInternalConsistency, StageScratch, "acquire scratch dir", err))
	}
	defer func() {
		if rerr := arena.Release(); rerr != nil {
			c.log.WithContext(ctx).Errorw("msg", "release scratch dir failed", "content_id", req.ContentID, "stage", StageScratch, "err", rerr)
		}
	}()

	c.log.WithContext(ctx).Infow("msg", "composition started", "content_id", req.ContentID, "stage", StageValidate,
		"segments", len(p.visuals), "intro", p.intro, "engine", c.engine.Name())

	progress := newProgress(req.Progress, len(p.visuals)+boolToInt(p.intro)+2)

	intro, err := c.renderClips(ctx, req, p, arena, progress)
	if err != nil {
		return nil, nil, err
	}

	inputs, err := arena.Ordered()
	if err != nil {
		return nil, nil, classify(req.ContentID, media.StageConcat, err)
	}
	if p.intro {
		if err := requireFile(intro.Path); err != nil {
			return nil, nil, classify(req.ContentID, media.StageIntro,
				newError(KindInternalConsistency, media.StageIntro, "intro clip is missing", err))
		}
		inputs = append([]media.Clip{intro}, inputs...)
	}

	concatCtx, concatSpan := c.tracer.Start(ctx, media.StageConcat)
	concat, err := c.engine.Concat(concatCtx, media.ConcatJob{
		Inputs:   inputs,
		ListPath: arena.ConcatListPath(),
		Output:   arena.ConcatPath(),
	})
	endSpan(concatSpan, err)
	if err != nil {
		return nil, nil, classify(req.ContentID, media.StageConcat, err)
	}
	progress.step(media.StageConcat)

	video, err = c.mux(ctx, req, concat, arena.RunID())
	if err != nil {
		return nil, nil, err
	}
	progress.step(media.StageMux)

	details = &models.CompositionDetails{
		VisualTimings:   p.visuals,
		AudioPath:       req.Voiceover.AudioPath,
		AudioDuration:   req.Voiceover.Duration,
		VisualDuration:  p.visualDuration,
		HasTextOverlays: hasLabels(req.Overlay, p.visuals),
	}
	if p.intro {
		details.IntroDuration = req.Overlay.Intro.Duration
	}
	c.log.WithContext(ctx).Infow("msg", "composition finished", "content_id", req.ContentID, "stage", media.StageMux,
		"duration", video.Duration, "bytes", video.ByteSize, "path", video.LocalPath)
	return video, details, nil
}

// validate 在任何渲染开始之前完成全部输入校验
func (c *Composer) validate(req Request) (*plan, error) {
	if !ValidContentID(req.ContentID) {
		return nil, inputMismatch("invalid content id %q", req.ContentID)
	}
	timings, err := BuildSegmentTimings(req.Script, req.Voiceover)
	if err != nil {
		return nil, err
	}
	visuals, err := ResolveVisualTimings(req.Script, req.Assets, timings, c.opts.AlternateMotion)
	if err != nil {
		return nil, err
	}
	for _, v := range visuals {
		if err := requireFile(v.AssetPath); err != nil {
			return nil, inputMismatch("asset for segment %d is missing: %v", v.Index, err)
		}
	}
	if err := requireFile(req.Voiceover.AudioPath); err != nil {
		return nil, inputMismatch("voiceover audio is missing: %v", err)
	}
	if req.Voiceover.Duration <= 0 {
		return nil, inputMismatch("voiceover duration must be positive, got %.3f", req.Voiceover.Duration)
	}

	p := &plan{visuals: visuals, intro: req.Overlay.Intro.Enabled}
	if p.intro {
		if req.Overlay.Intro.Duration <= 0 {
			return nil, inputMismatch("intro duration must be positive, got %.3f", req.Overlay.Intro.Duration)
		}
		if strings.TrimSpace(req.Overlay.Intro.Text) == "" {
			return nil, inputMismatch("intro is enabled but has no text")
		}
	}
	p.visualDuration = VisualDuration(visuals)
	return p, nil
}

// renderClips 并发渲染所有分段（以及纯色背景的片头），全部结束后才返回。
// 任一任务失败会取消其余任务。
func (c *Composer) renderClips(ctx context.Context, req Request, p *plan, arena *Arena, progress *progress) (media.Clip, error) {
	var intro media.Clip
	introCfg := req.Overlay.Intro

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, v := range p.visuals {
		v := v
		g.Go(func() error {
			clip, err := c.renderSegment(gctx, req, arena, v)
			if err != nil {
				return err
			}
			arena.Put(v.Index, clip)
			progress.step(StageSegment)
			return nil
		})
	}
	if p.intro && !introCfg.UseVideoBackground {
		g.Go(func() error {
			clip, err := c.renderIntro(gctx, req, arena, "")
			if err != nil {
				return err
			}
			intro = clip
			progress.step(media.StageIntro)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.WithContext(ctx).Errorw("msg", "segment rendering failed", "content_id", req.ContentID, "stage", StageSegment, "err", err)
		return media.Clip{}, err
	}

	if p.intro && introCfg.UseVideoBackground {
		clip, err := c.renderIntro(ctx, req, arena, arena.MotionPath(0))
		if err != nil {
			return media.Clip{}, err
		}
		intro = clip
		progress.step(media.StageIntro)
	}
	return intro, nil
}

func (c *Composer) renderSegment(ctx context.Context, req Request, arena *Arena, v models.VisualTiming) (clip media.Clip, err error) {
	ctx, span := c.tracer.Start(ctx, StageSegment, trace.WithAttributes(
		attribute.String("content_id", req.ContentID),
		attribute.Int("segment.index", v.Index),
	))
	defer func() { endSpan(span, err) }()

	clip, err = c.engine.RenderMotion(ctx, media.MotionJob{
		Index:     v.Index,
		ImagePath: v.AssetPath,
		Duration:  v.Duration,
		Motion:    v.Motion,
		Output:    arena.MotionPath(v.Index),
	})
	if err != nil {
		return media.Clip{}, classify(req.ContentID, media.StageMotion, err)
	}

	labels := req.Overlay.SegmentLabels
	if labels.Enabled && v.TextOverlay != "" {
		clip, err = c.engine.BurnLabel(ctx, media.LabelJob{
			Index:    v.Index,
			Input:    clip.Path,
			Duration: clip.Duration,
			Text:     v.TextOverlay,
			TextPath: arena.LabelTextPath(v.Index),
			Config:   labels,
			Output:   arena.LabelPath(v.Index),
		})
		if err != nil {
			return media.Clip{}, classify(req.ContentID, media.StageLabel, err)
		}
	}
	c.log.WithContext(ctx).Debugw("msg", "segment rendered", "content_id", req.ContentID, "stage", StageSegment,
		"index", v.Index, "duration", clip.Duration)
	return clip, nil
}

func (c *Composer) renderIntro(ctx context.Context, req Request, arena *Arena, background string) (clip media.Clip, err error) {
	ctx, span := c.tracer.Start(ctx, media.StageIntro, trace.WithAttributes(attribute.String("content_id", req.ContentID)))
	defer func() { endSpan(span, err) }()

	if background != "" {
		if err := requireFile(background); err != nil {
			return media.Clip{}, classify(req.ContentID, media.StageIntro,
				newError(KindInternalConsistency, media.StageIntro, "first segment clip is missing", err))
		}
	}
	clip, err = c.engine.RenderIntro(ctx, media.IntroJob{
		Config:         req.Overlay.Intro,
		BackgroundClip: background,
		FramePath:      arena.IntroFramePath(),
		TextPath:       arena.IntroTextPath(),
		SubtextPath:    arena.IntroSubtextPath(),
		Output:         arena.IntroPath(),
	})
	if err != nil {
		return media.Clip{}, classify(req.ContentID, media.StageIntro, err)
	}
	return clip, nil
}

// mux 合入旁白，先写到本次运行独有的临时文件，成功后重命名为 <contentID>.mp4；
// 失败时只删除自己的临时文件
func (c *Composer) mux(ctx context.Context, req Request, concat media.Clip, runID string) (video *models.FinalVideo, err error) {
	ctx, span := c.tracer.Start(ctx, media.StageMux, trace.WithAttributes(attribute.String("content_id", req.ContentID)))
	defer func() { endSpan(span, err) }()

	if err := os.MkdirAll(c.opts.OutputDir, 0755); err != nil {
		return nil, classify(req.ContentID, StageOutput, newError(KindInternalConsistency, StageOutput, "create output dir", err))
	}
	output := filepath.Join(c.opts.OutputDir, req.ContentID+".mp4")
	partial := filepath.Join(c.opts.OutputDir, "."+runID+".mp4")

	clip, err := c.engine.Mux(ctx, media.MuxJob{
		Video:         concat,
		AudioPath:     req.Voiceover.AudioPath,
		AudioDuration: req.Voiceover.Duration,
		Output:        partial,
	})
	if err != nil {
		_ = os.Remove(partial)
		return nil, classify(req.ContentID, media.StageMux, err)
	}
	if err := os.Rename(clip.Path, output); err != nil {
		_ = os.Remove(clip.Path)
		return nil, classify(req.ContentID, StageOutput, newError(KindInternalConsistency, StageOutput, "move final video into place", err))
	}

	info, err := os.Stat(output)
	if err != nil {
		return nil, classify(req.ContentID, media.StageMux,
			newError(KindInternalConsistency, media.StageMux, "final video is missing", err))
	}
	return &models.FinalVideo{
		LocalPath:   output,
		Duration:    clip.Duration,
		Resolution:  c.opts.Spec.Resolution(),
		AspectRatio: c.opts.Spec.AspectRatio,
		ByteSize:    info.Size(),
		CompletedAt: c.now(),
	}, nil
}

func hasLabels(overlay models.TextOverlayConfig, visuals []models.VisualTiming) bool {
	if !overlay.SegmentLabels.Enabled {
		return false
	}
	for _, v := range visuals {
		if v.TextOverlay != "" {
			return true
		}
	}
	return false
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type progress struct {
	fn    ProgressFunc
	total int
	done  atomic.Int32
}

func newProgress(fn ProgressFunc, total int) *progress {
	return &progress{fn: fn, total: total}
}

func (p *progress) step(stage string) {
	n := p.done.Add(1)
	if p.fn != nil {
		p.fn(stage, int(n), p.total)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// String 便于日志输出
func (r Request) String() string {
	return fmt.Sprintf("content=%s segments=%d assets=%d audio=%s", r.ContentID, len(r.Script), len(r.Assets), r.Voiceover.AudioPath)
}
