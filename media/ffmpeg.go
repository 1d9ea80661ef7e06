package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// maxLaunchAttempts 仅"进程无法启动"会重试一次
const maxLaunchAttempts = 2

// EncodeSettings 所有片段共用的编码参数，保证拼接时可以直接 stream copy
type EncodeSettings struct {
	VideoCodec      string
	Preset          string
	CRF             int
	AudioCodec      string
	AudioBitrate    string
	AudioSampleRate int
}

type FFmpegOptions struct {
	Binary           string
	Spec             OutputSpec
	Encode           EncodeSettings
	TimeoutBase      time.Duration
	TimeoutPerSecond time.Duration
}

// FFmpegEngine 通过子进程调用 ffmpeg 的 Engine 实现
type FFmpegEngine struct {
	runner CommandRunner
	opts   FFmpegOptions
	log    *log.Helper
}

func NewFFmpegEngine(runner CommandRunner, opts FFmpegOptions, logger log.Logger) *FFmpegEngine {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	return &FFmpegEngine{
		runner: runner,
		opts:   opts,
		log:    log.NewHelper(log.With(logger, "module", "media/ffmpeg")),
	}
}

func (e *FFmpegEngine) Name() string { return "ffmpeg" }

// Timeout 单次调用的超时，随片段时长线性增长
func (e *FFmpegEngine) Timeout(mediaDuration float64) time.Duration {
	return e.opts.TimeoutBase + time.Duration(mediaDuration*float64(e.opts.TimeoutPerSecond))
}

func (e *FFmpegEngine) videoEncodeArgs() []string {
	enc := e.opts.Encode
	return []string{
		"-c:v", enc.VideoCodec,
		"-preset", enc.Preset,
		"-crf", strconv.Itoa(enc.CRF),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(e.opts.Spec.FPS),
		"-video_track_timescale", "90000",
	}
}

func (e *FFmpegEngine) RenderMotion(ctx context.Context, job MotionJob) (Clip, error) {
	spec := e.opts.Spec
	frames := spec.Frames(job.Duration)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", job.ImagePath,
		"-vf", motionFilter(spec, frames, job.Motion),
		"-frames:v", strconv.Itoa(frames),
	}
	args = append(args, e.videoEncodeArgs()...)
	args = append(args, "-an", job.Output)

	if err := e.run(ctx, StageMotion, job.Duration, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: job.Output, Duration: job.Duration}, nil
}

func (e *FFmpegEngine) RenderIntro(ctx context.Context, job IntroJob) (Clip, error) {
	spec := e.opts.Spec
	cfg := job.Config
	frames := spec.Frames(cfg.Duration)

	if err := writeText(job.TextPath, cfg.Text); err != nil {
		return Clip{}, err
	}
	subtextPath := ""
	if strings.TrimSpace(cfg.Subtext) != "" {
		if err := writeText(job.SubtextPath, cfg.Subtext); err != nil {
			return Clip{}, err
		}
		subtextPath = job.SubtextPath
	}
	for _, p := range []string{job.TextPath, subtextPath} {
		if err := filterSafe(p); err != nil {
			return Clip{}, &CommandError{Stage: StageIntro, Err: err}
		}
	}

	var args []string
	var filters []string
	if job.BackgroundClip != "" {
		// 先截取首个分段的第一帧
		frameArgs := []string{"-y", "-hide_banner", "-loglevel", "error",
			"-i", job.BackgroundClip, "-frames:v", "1", job.FramePath}
		if err := e.run(ctx, StageIntroFrame, 1, frameArgs); err != nil {
			return Clip{}, err
		}
		args = []string{"-y", "-hide_banner", "-loglevel", "error",
			"-loop", "1", "-framerate", strconv.Itoa(spec.FPS), "-i", job.FramePath}
		filters = append(filters, fillFilter(spec.Width, spec.Height))
		if cfg.BackgroundOverlayOpacity > 0 {
			filters = append(filters, fmt.Sprintf("drawbox=x=0:y=0:w=iw:h=ih:color=%s:t=fill",
				colorWithOpacity("black", cfg.BackgroundOverlayOpacity)))
		}
	} else {
		bg := cfg.BackgroundColor
		if bg == "" {
			bg = "black"
		}
		args = []string{"-y", "-hide_banner", "-loglevel", "error",
			"-f", "lavfi", "-i", fmt.Sprintf("color=c=%s:s=%s:r=%d:d=%s", bg, spec.Resolution(), spec.FPS, ff(cfg.Duration))}
	}
	filters = append(filters, introTextFilters(spec, cfg, job.TextPath, subtextPath)...)
	filters = append(filters, "format=yuv420p")

	args = append(args, "-vf", strings.Join(filters, ","), "-frames:v", strconv.Itoa(frames))
	args = append(args, e.videoEncodeArgs()...)
	args = append(args, "-an", job.Output)

	if err := e.run(ctx, StageIntro, cfg.Duration, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: job.Output, Duration: cfg.Duration}, nil
}

func (e *FFmpegEngine) BurnLabel(ctx context.Context, job LabelJob) (Clip, error) {
	if err := writeText(job.TextPath, job.Text); err != nil {
		return Clip{}, err
	}
	if err := filterSafe(job.TextPath); err != nil {
		return Clip{}, &CommandError{Stage: StageLabel, Err: err}
	}
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", job.Input,
		"-vf", labelFilter(e.opts.Spec, job.Config, job.TextPath, job.Duration),
	}
	args = append(args, e.videoEncodeArgs()...)
	args = append(args, "-an", job.Output)

	if err := e.run(ctx, StageLabel, job.Duration, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: job.Output, Duration: job.Duration}, nil
}

func (e *FFmpegEngine) Concat(ctx context.Context, job ConcatJob) (Clip, error) {
	var total float64
	for _, in := range job.Inputs {
		total += in.Duration
	}
	if err := os.WriteFile(job.ListPath, []byte(concatList(job.Inputs)), 0644); err != nil {
		return Clip{}, fmt.Errorf("write concat list: %w", err)
	}
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", job.ListPath,
		"-c", "copy", "-an", job.Output,
	}
	if err := e.run(ctx, StageConcat, total, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: job.Output, Duration: total}, nil
}

func (e *FFmpegEngine) Mux(ctx context.Context, job MuxJob) (Clip, error) {
	enc := e.opts.Encode
	duration := ShortestWins(job.Video.Duration, job.AudioDuration)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", job.Video.Path,
		"-i", job.AudioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", enc.AudioCodec,
		"-b:a", enc.AudioBitrate,
		"-ar", strconv.Itoa(enc.AudioSampleRate),
		"-t", ff(duration),
		"-shortest",
		"-movflags", "+faststart",
		job.Output,
	}
	if err := e.run(ctx, StageMux, duration, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: job.Output, Duration: duration}, nil
}

// run 执行一次 ffmpeg 调用。超时与编码失败不重试，进程无法启动时重试一次。
func (e *FFmpegEngine) run(ctx context.Context, stage string, mediaDuration float64, args []string) error {
	timeout := e.Timeout(mediaDuration)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.runner.Run(callCtx, e.opts.Binary, args, RunOpts{})
		callErr := callCtx.Err()
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(callErr, context.DeadlineExceeded) {
				return &CommandError{Stage: stage, TimedOut: true, Err: err}
			}
			var launchErr *LaunchError
			if errors.As(err, &launchErr) {
				if attempt < maxLaunchAttempts {
					e.log.WithContext(ctx).Warnf("ffmpeg %s could not start, retrying: %v", stage, err)
					continue
				}
				return &CommandError{Stage: stage, Launch: true, Err: err}
			}
			return &CommandError{Stage: stage, Err: err}
		}
		if result.ExitCode != 0 {
			return &CommandError{Stage: stage, ExitCode: result.ExitCode, Stderr: capStderr(result.Stderr)}
		}
		e.log.WithContext(ctx).Debugf("ffmpeg %s ok: %s", stage, args[len(args)-1])
		return nil
	}
}

func writeText(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write drawtext file: %w", err)
	}
	return nil
}
