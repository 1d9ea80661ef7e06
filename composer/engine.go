package composer

import (
	"ShortsComposer-server/config"
	"ShortsComposer-server/media"

	"github.com/go-kratos/kratos/v2/log"
)

// SpecFromConfig 输出规格
func SpecFromConfig(cfg config.ComposerConfig) media.OutputSpec {
	return media.OutputSpec{
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		AspectRatio: cfg.AspectRatio,
		EndZoom:     cfg.EndZoom,
	}
}

func OptionsFromConfig(cfg config.ComposerConfig) Options {
	return Options{
		Spec:            SpecFromConfig(cfg),
		ScratchRoot:     cfg.ScratchDir,
		OutputDir:       cfg.OutputDir,
		Concurrency:     cfg.Concurrency,
		AlternateMotion: cfg.AlternateMotion,
	}
}

// NewEngine 按配置选择引擎，一个进程内只选一次。
// runner 为 nil 时使用真实子进程。
func NewEngine(cfg config.ComposerConfig, runner media.CommandRunner, logger log.Logger) media.Engine {
	spec := SpecFromConfig(cfg)
	if cfg.StubMode {
		return media.NewStubEngine(spec)
	}
	if runner == nil {
		runner = media.NewExecRunner()
	}
	return media.NewFFmpegEngine(runner, media.FFmpegOptions{
		Binary: cfg.FFmpegPath,
		Spec:   spec,
		Encode: media.EncodeSettings{
			VideoCodec:      cfg.VideoCodec,
			Preset:          cfg.Preset,
			CRF:             cfg.CRF,
			AudioCodec:      cfg.AudioCodec,
			AudioBitrate:    cfg.AudioBitrate,
			AudioSampleRate: cfg.AudioSampleRate,
		},
		TimeoutBase:      cfg.TimeoutBase,
		TimeoutPerSecond: cfg.TimeoutPerSecond,
	}, logger)
}

// NewFromConfig 组装引擎与 Composer
func NewFromConfig(cfg config.ComposerConfig, runner media.CommandRunner, logger log.Logger) *Composer {
	return New(NewEngine(cfg, runner, logger), OptionsFromConfig(cfg), logger)
}
