package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ShortsComposer-server/media"
	"ShortsComposer-server/models"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = media.OutputSpec{Width: 1080, Height: 1920, FPS: 30, AspectRatio: "9:16", EndZoom: 1.08}

type env struct {
	scratch string
	output  string
	inputs  string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{
		scratch: filepath.Join(root, "scratch"),
		output:  filepath.Join(root, "output"),
		inputs:  filepath.Join(root, "inputs"),
	}
	require.NoError(t, os.MkdirAll(e.inputs, 0755))
	return e
}

func (e env) composer(engine media.Engine) *Composer {
	return New(engine, Options{
		Spec:        testSpec,
		ScratchRoot: e.scratch,
		OutputDir:   e.output,
		Concurrency: 3,
	}, log.DefaultLogger)
}

// request 为每个时长写出一张图片与一段旁白文件
func (e env) request(t *testing.T, contentID string, audioDuration float64, durations ...float64) Request {
	t.Helper()
	req := Request{ContentID: contentID}
	for i, d := range durations {
		p := filepath.Join(e.inputs, fmt.Sprintf("%s_%d.png", contentID, i))
		require.NoError(t, os.WriteFile(p, []byte("png"), 0644))
		req.Script = append(req.Script, models.ScriptSegment{
			Index: i, Duration: d, Narration: fmt.Sprintf("line %d", i), VisualKind: models.VisualGeneratedImage,
		})
		req.Assets = append(req.Assets, models.GeneratedAsset{Index: i, Path: p, Width: 1080, Height: 1920, Duration: d})
	}
	audio := filepath.Join(e.inputs, contentID+".mp3")
	require.NoError(t, os.WriteFile(audio, []byte("mp3"), 0644))
	req.Voiceover = models.VoiceoverResult{AudioPath: audio, Duration: audioDuration, Speed: 1}
	return req
}

func assertNoScratch(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

// recordingEngine 记录每次调用，用于断言调用顺序与参数
type recordingEngine struct {
	media.Engine
	mu     sync.Mutex
	stages []string
	intro  *media.IntroJob
	concat *media.ConcatJob
	labels []media.LabelJob
}

func (r *recordingEngine) record(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingEngine) RenderMotion(ctx context.Context, job media.MotionJob) (media.Clip, error) {
	r.record(media.StageMotion)
	return r.Engine.RenderMotion(ctx, job)
}

func (r *recordingEngine) BurnLabel(ctx context.Context, job media.LabelJob) (media.Clip, error) {
	r.record(media.StageLabel)
	r.mu.Lock()
	r.labels = append(r.labels, job)
	r.mu.Unlock()
	return r.Engine.BurnLabel(ctx, job)
}

func (r *recordingEngine) RenderIntro(ctx context.Context, job media.IntroJob) (media.Clip, error) {
	r.record(media.StageIntro)
	r.mu.Lock()
	r.intro = &job
	r.mu.Unlock()
	return r.Engine.RenderIntro(ctx, job)
}

func (r *recordingEngine) Concat(ctx context.Context, job media.ConcatJob) (media.Clip, error) {
	r.record(media.StageConcat)
	r.mu.Lock()
	r.concat = &job
	r.mu.Unlock()
	return r.Engine.Concat(ctx, job)
}

func (r *recordingEngine) Mux(ctx context.Context, job media.MuxJob) (media.Clip, error) {
	r.record(media.StageMux)
	return r.Engine.Mux(ctx, job)
}

func TestCompose_FiveSegmentsWithLabels(t *testing.T) {
	e := newEnv(t)
	rec := &recordingEngine{Engine: media.NewStubEngine(testSpec)}
	c := e.composer(rec)

	req := e.request(t, "c-1", 30, 6, 6, 6, 6, 6)
	req.Voiceover.Segments = []models.SegmentTiming{
		{Index: 0, Start: 0, End: 6}, {Index: 1, Start: 6, End: 12}, {Index: 2, Start: 12, End: 18},
		{Index: 3, Start: 18, End: 24}, {Index: 4, Start: 24, End: 30},
	}
	for i := range req.Script {
		req.Script[i].TextOverlay = fmt.Sprintf("Step %d", i+1)
	}
	req.Script[3].TextOverlay = ""
	req.Overlay.SegmentLabels = models.SegmentLabelConfig{Enabled: true, FontSize: 64, Position: models.PositionTop}

	video, details, err := c.Compose(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(e.output, "c-1.mp4"), video.LocalPath)
	assert.FileExists(t, video.LocalPath)
	assert.InDelta(t, 30, video.Duration, 1e-9)
	assert.Equal(t, "1080x1920", video.Resolution)
	assert.Equal(t, "9:16", video.AspectRatio)
	assert.Positive(t, video.ByteSize)
	assert.Empty(t, video.RemoteURL)
	assert.False(t, video.CompletedAt.IsZero())

	require.Len(t, details.VisualTimings, 5)
	assert.True(t, details.HasTextOverlays)
	assert.Equal(t, 30.0, details.VisualDuration)
	assert.Equal(t, 30.0, details.AudioDuration)
	assert.Equal(t, 0.0, details.IntroDuration)
	assert.Equal(t, req.Voiceover.AudioPath, details.AudioPath)

	// 第 4 段没有标签文字，不烧录
	assert.Len(t, rec.labels, 4)
	require.NotNil(t, rec.concat)
	require.Len(t, rec.concat.Inputs, 5)
	for i, in := range rec.concat.Inputs {
		if i == 3 {
			assert.True(t, strings.HasSuffix(in.Path, "segment_003_motion.mp4"), in.Path)
			continue
		}
		assert.True(t, strings.HasSuffix(in.Path, fmt.Sprintf("segment_%03d_label.mp4", i)), in.Path)
	}
	assertNoScratch(t, e.scratch)
}

func TestCompose_ShortestWins(t *testing.T) {
	tests := []struct {
		name  string
		audio float64
		want  float64
	}{
		{"audio shorter", 18.5, 18.5},
		{"visual shorter", 25, 19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			c := e.composer(media.NewStubEngine(testSpec))
			video, details, err := c.Compose(context.Background(), e.request(t, "c-2", tt.audio, 5, 7, 7))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, video.Duration, 1e-9)
			assert.Equal(t, 19.0, details.VisualDuration)
			assert.False(t, details.HasTextOverlays)
		})
	}
}

func TestCompose_IntroCountsTowardVisualLength(t *testing.T) {
	e := newEnv(t)
	rec := &recordingEngine{Engine: media.NewStubEngine(testSpec)}
	c := e.composer(rec)

	req := e.request(t, "c-3", 30, 5.5, 5.5, 5.5, 5.5, 5.5)
	req.Overlay.Intro = models.IntroConfig{Enabled: true, Duration: 2.5, Text: "Top 5 facts", FontSize: 96}

	video, details, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 30, video.Duration, 1e-9)
	assert.Equal(t, 2.5, details.IntroDuration)
	assert.InDelta(t, 27.5, details.VisualDuration, 1e-9)
	assert.False(t, details.HasTextOverlays, "intro card alone is not a segment label")

	require.NotNil(t, rec.concat)
	require.Len(t, rec.concat.Inputs, 6)
	assert.True(t, strings.HasSuffix(rec.concat.Inputs[0].Path, "intro.mp4"))
	for i := 1; i < 6; i++ {
		assert.True(t, strings.HasSuffix(rec.concat.Inputs[i].Path, fmt.Sprintf("segment_%03d_motion.mp4", i-1)))
	}
	require.NotNil(t, rec.intro)
	assert.Empty(t, rec.intro.BackgroundClip)
}

func TestCompose_IntroOverVideoRunsAfterSegments(t *testing.T) {
	e := newEnv(t)
	rec := &recordingEngine{Engine: media.NewStubEngine(testSpec)}
	c := e.composer(rec)

	req := e.request(t, "c-4", 20, 4, 4, 4)
	req.Overlay.Intro = models.IntroConfig{Enabled: true, Duration: 2, Text: "Hello", UseVideoBackground: true}

	_, _, err := c.Compose(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, rec.intro)
	assert.True(t, strings.HasSuffix(rec.intro.BackgroundClip, "segment_000_motion.mp4"))
	assert.Equal(t, []string{media.StageMotion, media.StageMotion, media.StageMotion, media.StageIntro, media.StageConcat, media.StageMux}, rec.stages)
}

func TestCompose_InputMismatchBeforeAnyScratch(t *testing.T) {
	e := newEnv(t)
	rec := &recordingEngine{Engine: media.NewStubEngine(testSpec)}
	c := e.composer(rec)

	req := e.request(t, "c-5", 30, 6, 6, 6, 6, 6)
	req.Assets = req.Assets[:4]

	_, _, err := c.Compose(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindInputMismatch, KindOf(err))
	ce, _ := AsError(err)
	assert.Equal(t, "c-5", ce.ContentID)
	assert.Contains(t, err.Error(), "5 segments but 4 generated assets")
	assert.Empty(t, rec.stages)
	assertNoScratch(t, e.scratch)
	assert.NoFileExists(t, filepath.Join(e.output, "c-5.mp4"))
}

func TestCompose_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"missing asset file", func(r *Request) { r.Assets[1].Path = r.Assets[1].Path + ".missing" }},
		{"missing audio file", func(r *Request) { r.Voiceover.AudioPath = "/nonexistent/voice.mp3" }},
		{"zero audio duration", func(r *Request) { r.Voiceover.Duration = 0 }},
		{"bad content id", func(r *Request) { r.ContentID = "../x" }},
		{"intro without duration", func(r *Request) { r.Overlay.Intro = models.IntroConfig{Enabled: true, Text: "x"} }},
		{"intro without text", func(r *Request) { r.Overlay.Intro = models.IntroConfig{Enabled: true, Duration: 2} }},
		{"timing out of range", func(r *Request) {
			r.Voiceover.Segments = []models.SegmentTiming{{Index: 7, Start: 0, End: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			c := e.composer(media.NewStubEngine(testSpec))
			req := e.request(t, "c-6", 10, 5, 5)
			tt.mutate(&req)
			_, _, err := c.Compose(context.Background(), req)
			assert.Equal(t, KindInputMismatch, KindOf(err))
			assertNoScratch(t, e.scratch)
		})
	}
}

// failingEngine 在指定分段上返回错误
type failingEngine struct {
	media.Engine
	index int
	err   error
}

func (f *failingEngine) RenderMotion(ctx context.Context, job media.MotionJob) (media.Clip, error) {
	if job.Index == f.index {
		return media.Clip{}, f.err
	}
	return f.Engine.RenderMotion(ctx, job)
}

func TestCompose_SegmentFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"encode failure", &media.CommandError{Stage: media.StageMotion, ExitCode: 1, Stderr: "boom"}, KindEncodeFailure},
		{"timeout", &media.CommandError{Stage: media.StageMotion, TimedOut: true}, KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			c := e.composer(&failingEngine{Engine: media.NewStubEngine(testSpec), index: 2, err: tt.err})

			_, _, err := c.Compose(context.Background(), e.request(t, "c-7", 20, 4, 4, 4, 4, 4))
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			ce, _ := AsError(err)
			assert.Equal(t, media.StageMotion, ce.Stage)
			assert.Equal(t, "c-7", ce.ContentID)
			assertNoScratch(t, e.scratch)
			assert.NoFileExists(t, filepath.Join(e.output, "c-7.mp4"))
		})
	}
}

// lostClipEngine 报告成功却没有写出文件
type lostClipEngine struct {
	media.Engine
}

func (l *lostClipEngine) RenderMotion(ctx context.Context, job media.MotionJob) (media.Clip, error) {
	clip, err := l.Engine.RenderMotion(ctx, job)
	if err == nil && job.Index == 1 {
		_ = os.Remove(clip.Path)
	}
	return clip, err
}

func TestCompose_MissingClipIsInternalConsistency(t *testing.T) {
	e := newEnv(t)
	c := e.composer(&lostClipEngine{Engine: media.NewStubEngine(testSpec)})

	_, _, err := c.Compose(context.Background(), e.request(t, "c-8", 10, 3, 3))
	assert.Equal(t, KindInternalConsistency, KindOf(err))
	assertNoScratch(t, e.scratch)
}

type failingMuxEngine struct {
	media.Engine
}

func (f *failingMuxEngine) Mux(ctx context.Context, job media.MuxJob) (media.Clip, error) {
	// 写出不完整的文件后失败
	_ = os.WriteFile(job.Output, []byte("partial"), 0644)
	return media.Clip{}, &media.CommandError{Stage: media.StageMux, ExitCode: 1}
}

func TestCompose_MuxFailureRemovesPartialOutput(t *testing.T) {
	e := newEnv(t)
	c := e.composer(&failingMuxEngine{Engine: media.NewStubEngine(testSpec)})

	_, _, err := c.Compose(context.Background(), e.request(t, "c-9", 10, 3, 3))
	assert.Equal(t, KindEncodeFailure, KindOf(err))
	assert.NoFileExists(t, filepath.Join(e.output, "c-9.mp4"))
	entries, err := os.ReadDir(e.output)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial mux output left behind")
	assertNoScratch(t, e.scratch)
}

// blockingEngine 分段渲染阻塞到 ctx 结束
type blockingEngine struct {
	media.Engine
	started chan struct{}
	once    sync.Once
}

func (b *blockingEngine) RenderMotion(ctx context.Context, job media.MotionJob) (media.Clip, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return media.Clip{}, ctx.Err()
}

func TestCompose_Cancellation(t *testing.T) {
	e := newEnv(t)
	eng := &blockingEngine{Engine: media.NewStubEngine(testSpec), started: make(chan struct{})}
	c := e.composer(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := e.request(t, "c-10", 10, 3, 3, 3)
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Compose(ctx, req)
		errCh <- err
	}()

	select {
	case <-eng.started:
	case <-time.After(5 * time.Second):
		t.Fatal("segment rendering never started")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.Equal(t, KindCanceled, KindOf(err))
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("compose did not return after cancel")
	}
	assertNoScratch(t, e.scratch)
}

func TestCompose_Progress(t *testing.T) {
	e := newEnv(t)
	c := e.composer(media.NewStubEngine(testSpec))

	var mu sync.Mutex
	var dones []int
	total := 0
	req := e.request(t, "c-11", 10, 2, 2, 2)
	req.Overlay.Intro = models.IntroConfig{Enabled: true, Duration: 1, Text: "hi"}
	req.Progress = func(stage string, done, n int) {
		mu.Lock()
		defer mu.Unlock()
		dones = append(dones, done)
		total = n
	}
	_, _, err := c.Compose(context.Background(), req)
	require.NoError(t, err)

	// 3 个分段 + 片头 + 拼接 + 合流
	assert.Equal(t, 6, total)
	assert.Len(t, dones, 6)
	assert.Equal(t, 6, dones[len(dones)-1])
}

func TestCompose_RerunSameContentID(t *testing.T) {
	e := newEnv(t)
	c := e.composer(media.NewStubEngine(testSpec))
	req := e.request(t, "c-12", 10, 5, 5)

	first, _, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	second, _, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.LocalPath, second.LocalPath)
	assert.Equal(t, first.Duration, second.Duration)
	assertNoScratch(t, e.scratch)
}

func TestCompose_OverlappingRunsSameContentID(t *testing.T) {
	e := newEnv(t)
	c := e.composer(media.NewStubEngine(testSpec))
	reqs := []Request{e.request(t, "c-15", 10, 5, 5), e.request(t, "c-15", 10, 5, 5)}

	var wg sync.WaitGroup
	errs := make([]error, len(reqs))
	videos := make([]*models.FinalVideo, len(reqs))
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			videos[i], _, errs[i] = c.Compose(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()

	for i := range reqs {
		require.NoError(t, errs[i])
		assert.Equal(t, filepath.Join(e.output, "c-15.mp4"), videos[i].LocalPath)
	}
	assert.FileExists(t, filepath.Join(e.output, "c-15.mp4"))
	entries, err := os.ReadDir(e.output)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assertNoScratch(t, e.scratch)
}

type stubPublisher struct {
	url   string
	err   error
	calls int
}

func (p *stubPublisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	p.calls++
	return p.url, p.err
}

func TestComposer_Publish(t *testing.T) {
	e := newEnv(t)
	c := e.composer(media.NewStubEngine(testSpec))
	video, _, err := c.Compose(context.Background(), e.request(t, "c-13", 10, 5))
	require.NoError(t, err)

	failing := &stubPublisher{err: errors.New("bucket unavailable")}
	err = c.Publish(context.Background(), "c-13", video, failing)
	assert.Equal(t, KindPublishFailure, KindOf(err))
	assert.Empty(t, video.RemoteURL)
	assert.FileExists(t, video.LocalPath, "local file stays usable when publishing fails")

	ok := &stubPublisher{url: "https://cdn.example.com/c-13.mp4"}
	require.NoError(t, c.Publish(context.Background(), "c-13", video, ok))
	assert.Equal(t, "https://cdn.example.com/c-13.mp4", video.RemoteURL)

	// RemoteURL 只写一次
	err = c.Publish(context.Background(), "c-13", video, ok)
	assert.Equal(t, KindPublishFailure, KindOf(err))
	assert.ErrorIs(t, err, models.ErrRemoteURLAlreadySet)
	assert.Equal(t, 1, ok.calls)
}

// writingRunner 把每次 ffmpeg 调用的最后一个参数（输出文件）写出
type writingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (w *writingRunner) Run(ctx context.Context, name string, args []string, opts media.RunOpts) (media.CmdResult, error) {
	w.mu.Lock()
	w.calls = append(w.calls, args)
	w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return media.CmdResult{}, err
	}
	return media.CmdResult{}, os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func TestCompose_FFmpegEngineWithFakeRunner(t *testing.T) {
	e := newEnv(t)
	runner := &writingRunner{}
	engine := media.NewFFmpegEngine(runner, media.FFmpegOptions{
		Binary:           "ffmpeg",
		Spec:             testSpec,
		Encode:           media.EncodeSettings{VideoCodec: "libx264", Preset: "veryfast", CRF: 20, AudioCodec: "aac", AudioBitrate: "192k", AudioSampleRate: 44100},
		TimeoutBase:      time.Minute,
		TimeoutPerSecond: time.Second,
	}, log.DefaultLogger)
	c := e.composer(engine)

	req := e.request(t, "c-14", 18.5, 5, 7, 7)
	req.Script[0].TextOverlay = "First"
	req.Overlay.SegmentLabels = models.SegmentLabelConfig{Enabled: true, FontSize: 48}
	req.Overlay.Intro = models.IntroConfig{Enabled: true, Duration: 2, Text: "Intro", UseVideoBackground: true}

	video, details, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 18.5, video.Duration, 1e-9)
	assert.True(t, details.HasTextOverlays)
	assert.Equal(t, 2.0, details.IntroDuration)

	// 3 motion + 1 label + intro_frame + intro + concat + mux
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.calls, 8)
	last := runner.calls[len(runner.calls)-1]
	muxOut := last[len(last)-1]
	assert.Equal(t, e.output, filepath.Dir(muxOut))
	assert.True(t, strings.HasPrefix(filepath.Base(muxOut), ".c-14-"), muxOut)
	assert.NoFileExists(t, muxOut)
	assert.Equal(t, filepath.Join(e.output, "c-14.mp4"), video.LocalPath)
	assert.FileExists(t, video.LocalPath)
	assertNoScratch(t, e.scratch)
}
