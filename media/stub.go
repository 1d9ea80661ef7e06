package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// StubEngine 不调用任何外部进程：写一个最小的占位文件，时长按输入算术得出。
// 用于测试与不产生费用的 CI 运行。
type StubEngine struct {
	spec OutputSpec
}

func NewStubEngine(spec OutputSpec) *StubEngine {
	return &StubEngine{spec: spec}
}

// StubArtifact 占位文件的内容
type StubArtifact struct {
	Stub       bool     `json:"stub"`
	Stage      string   `json:"stage"`
	Index      int      `json:"index"`
	Duration   float64  `json:"duration"`
	Resolution string   `json:"resolution"`
	FPS        int      `json:"fps"`
	Inputs     []string `json:"inputs,omitempty"`
	Text       string   `json:"text,omitempty"`
}

func (s *StubEngine) Name() string { return "stub" }

func (s *StubEngine) RenderMotion(ctx context.Context, job MotionJob) (Clip, error) {
	return s.write(ctx, job.Output, StubArtifact{
		Stage:    StageMotion,
		Index:    job.Index,
		Duration: job.Duration,
		Inputs:   []string{job.ImagePath},
	})
}

func (s *StubEngine) RenderIntro(ctx context.Context, job IntroJob) (Clip, error) {
	var inputs []string
	if job.BackgroundClip != "" {
		inputs = append(inputs, job.BackgroundClip)
	}
	return s.write(ctx, job.Output, StubArtifact{
		Stage:    StageIntro,
		Index:    -1,
		Duration: job.Config.Duration,
		Inputs:   inputs,
		Text:     job.Config.Text,
	})
}

func (s *StubEngine) BurnLabel(ctx context.Context, job LabelJob) (Clip, error) {
	return s.write(ctx, job.Output, StubArtifact{
		Stage:    StageLabel,
		Index:    job.Index,
		Duration: job.Duration,
		Inputs:   []string{job.Input},
		Text:     job.Text,
	})
}

func (s *StubEngine) Concat(ctx context.Context, job ConcatJob) (Clip, error) {
	var total float64
	inputs := make([]string, 0, len(job.Inputs))
	for _, in := range job.Inputs {
		total += in.Duration
		inputs = append(inputs, in.Path)
	}
	if err := os.WriteFile(job.ListPath, []byte(concatList(job.Inputs)), 0644); err != nil {
		return Clip{}, fmt.Errorf("write concat list: %w", err)
	}
	return s.write(ctx, job.Output, StubArtifact{
		Stage:    StageConcat,
		Index:    -1,
		Duration: total,
		Inputs:   inputs,
	})
}

func (s *StubEngine) Mux(ctx context.Context, job MuxJob) (Clip, error) {
	return s.write(ctx, job.Output, StubArtifact{
		Stage:    StageMux,
		Index:    -1,
		Duration: ShortestWins(job.Video.Duration, job.AudioDuration),
		Inputs:   []string{job.Video.Path, job.AudioPath},
	})
}

func (s *StubEngine) write(ctx context.Context, path string, a StubArtifact) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	a.Stub = true
	a.Resolution = s.spec.Resolution()
	a.FPS = s.spec.FPS
	b, err := json.Marshal(a)
	if err != nil {
		return Clip{}, err
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return Clip{}, fmt.Errorf("write stub %s artifact: %w", a.Stage, err)
	}
	return Clip{Path: path, Duration: a.Duration}, nil
}
