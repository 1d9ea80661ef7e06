// Package media 封装对媒体引擎（ffmpeg）的调用。
// Engine 有两种实现：基于子进程的 FFmpegEngine 与不做任何编码的 StubEngine，
// 两者契约一致，整个运行期间只选其一。
package media

import (
	"context"
	"fmt"
	"strings"

	"ShortsComposer-server/models"
)

// 阶段名，用于日志与错误
const (
	StageMotion     = "motion"
	StageLabel      = "label"
	StageIntro      = "intro"
	StageIntroFrame = "intro_frame"
	StageConcat     = "concat"
	StageMux        = "mux"
)

// OutputSpec 整个部署固定的输出规格
type OutputSpec struct {
	Width       int
	Height      int
	FPS         int
	AspectRatio string
	EndZoom     float64
}

func (s OutputSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Frames 给定时长对应的帧数，至少 1 帧
func (s OutputSpec) Frames(duration float64) int {
	n := int(duration*float64(s.FPS) + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// Clip 一个已写入磁盘的媒体产物
type Clip struct {
	Path     string
	Duration float64
}

type MotionJob struct {
	Index     int
	ImagePath string
	Duration  float64
	Motion    models.MotionDirection
	Output    string
}

type IntroJob struct {
	Config models.IntroConfig
	// BackgroundClip 非空时从该片段截取首帧作为背景
	BackgroundClip string
	FramePath      string
	TextPath       string
	SubtextPath    string
	Output         string
}

type LabelJob struct {
	Index    int
	Input    string
	Duration float64
	Text     string
	TextPath string
	Config   models.SegmentLabelConfig
	Output   string
}

// ConcatJob Inputs 已按最终顺序排列
type ConcatJob struct {
	Inputs   []Clip
	ListPath string
	Output   string
}

type MuxJob struct {
	Video         Clip
	AudioPath     string
	AudioDuration float64
	Output        string
}

// Engine 媒体变换能力
type Engine interface {
	Name() string
	RenderMotion(ctx context.Context, job MotionJob) (Clip, error)
	RenderIntro(ctx context.Context, job IntroJob) (Clip, error)
	BurnLabel(ctx context.Context, job LabelJob) (Clip, error)
	Concat(ctx context.Context, job ConcatJob) (Clip, error)
	Mux(ctx context.Context, job MuxJob) (Clip, error)
}

// maxStderrLen 错误信息中保留的 stderr 最大长度
const maxStderrLen = 4096

// CommandError 一次引擎调用失败
type CommandError struct {
	Stage    string
	ExitCode int
	Stderr   string
	Launch   bool
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("ffmpeg %s timed out", e.Stage)
	case e.Launch:
		return fmt.Sprintf("ffmpeg %s could not start: %v", e.Stage, e.Err)
	case e.Stderr != "":
		return fmt.Sprintf("ffmpeg %s failed (exit=%d): %s", e.Stage, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("ffmpeg %s failed: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("ffmpeg %s failed (exit=%d)", e.Stage, e.ExitCode)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func capStderr(stderr string) string {
	trimmed := strings.TrimSpace(stderr)
	if len(trimmed) > maxStderrLen {
		// 保留末尾，ffmpeg 的真正错误通常在最后
		trimmed = "..." + trimmed[len(trimmed)-maxStderrLen:]
	}
	return trimmed
}

// ShortestWins 成片时长取画面与音频中较短者
func ShortestWins(videoDuration, audioDuration float64) float64 {
	if audioDuration < videoDuration {
		return audioDuration
	}
	return videoDuration
}
