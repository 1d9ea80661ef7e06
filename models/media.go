package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 分镜画面类型
type VisualKind string

const (
	VisualGeneratedImage VisualKind = "generated_image"
	VisualTextCard       VisualKind = "text_card"
	VisualStock          VisualKind = "stock"
)

// ScriptSegment 上游脚本中的一个分段，只读
type ScriptSegment struct {
	Index       int        `json:"index"`
	Duration    float64    `json:"duration"`
	Narration   string     `json:"narration"`
	TextOverlay string     `json:"text_overlay,omitempty"`
	VisualKind  VisualKind `json:"visual_kind"`
}

// GeneratedAsset 图像生成方产出的分段静态图
type GeneratedAsset struct {
	Index    int     `json:"index"`
	Path     string  `json:"path"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
}

// VoiceoverResult 配音生成方产出的整段旁白。
// Segments 为合成时得到的实际分段边界，可能为空或少于脚本分段数。
type VoiceoverResult struct {
	AudioPath string          `json:"audio_path"`
	Duration  float64         `json:"duration"`
	Speed     float64         `json:"speed"`
	Segments  []SegmentTiming `json:"segments,omitempty"`
}

// SegmentTiming 权威时钟：来自配音结果而不是脚本的名义时长
type SegmentTiming struct {
	Index     int     `json:"index"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Duration  float64 `json:"duration"`
	Narration string  `json:"narration,omitempty"`
}

type MotionDirection string

const (
	MotionZoomIn  MotionDirection = "zoom_in"
	MotionZoomOut MotionDirection = "zoom_out"
)

// VisualTiming 合成期间使用的分段画面时间表
type VisualTiming struct {
	Index       int             `json:"index"`
	AssetPath   string          `json:"asset_path"`
	Start       float64         `json:"start"`
	End         float64         `json:"end"`
	Duration    float64         `json:"duration"`
	TextOverlay string          `json:"text_overlay,omitempty"`
	Motion      MotionDirection `json:"motion"`
}

// 文字动画
type TextAnimation string

const (
	AnimationNone     TextAnimation = "none"
	AnimationFadeIn   TextAnimation = "fade-in"
	AnimationFadeOut  TextAnimation = "fade-out"
	AnimationFadeBoth TextAnimation = "fade-both"
)

type TextPosition string

const (
	PositionTop    TextPosition = "top"
	PositionCenter TextPosition = "center"
	PositionBottom TextPosition = "bottom"
)

// 分段标签的显示窗口
type LabelTiming string

const (
	LabelTimingStart LabelTiming = "start"
	LabelTimingFull  LabelTiming = "full-duration"
	LabelTimingEnd   LabelTiming = "end"
)

// TextOverlayConfig 每次运行不可变；由调用方解析好默认值后传入
type TextOverlayConfig struct {
	Intro         IntroConfig        `yaml:"intro" json:"intro"`
	SegmentLabels SegmentLabelConfig `yaml:"segment_labels" json:"segment_labels"`
}

type IntroConfig struct {
	Enabled                  bool          `yaml:"enabled" json:"enabled"`
	Duration                 float64       `yaml:"duration" json:"duration"`
	Text                     string        `yaml:"text" json:"text"`
	Subtext                  string        `yaml:"subtext" json:"subtext,omitempty"`
	BackgroundColor          string        `yaml:"background_color" json:"background_color"`
	TextColor                string        `yaml:"text_color" json:"text_color"`
	Font                     string        `yaml:"font" json:"font"`
	FontSize                 int           `yaml:"font_size" json:"font_size"`
	SubtextFontSize          int           `yaml:"subtext_font_size" json:"subtext_font_size"`
	Position                 TextPosition  `yaml:"position" json:"position"`
	Animation                TextAnimation `yaml:"animation" json:"animation"`
	FadeDuration             float64       `yaml:"fade_duration" json:"fade_duration"`
	UseVideoBackground       bool          `yaml:"use_video_background" json:"use_video_background"`
	BackgroundOverlayOpacity float64       `yaml:"background_overlay_opacity" json:"background_overlay_opacity"`
}

type SegmentLabelConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Position          TextPosition  `yaml:"position" json:"position"`
	Font              string        `yaml:"font" json:"font"`
	FontSize          int           `yaml:"font_size" json:"font_size"`
	TextColor         string        `yaml:"text_color" json:"text_color"`
	BackgroundColor   string        `yaml:"background_color" json:"background_color,omitempty"`
	BackgroundOpacity float64       `yaml:"background_opacity" json:"background_opacity"`
	Padding           int           `yaml:"padding" json:"padding"`
	Animation         TextAnimation `yaml:"animation" json:"animation"`
	FadeDuration      float64       `yaml:"fade_duration" json:"fade_duration"`
	Timing            LabelTiming   `yaml:"timing" json:"timing"`
	DisplayDuration   float64       `yaml:"display_duration" json:"display_duration"`
}

// LabelWindow 返回标签在分段内的显示区间 [start, end]
func (c SegmentLabelConfig) LabelWindow(segmentDuration float64) (float64, float64) {
	display := c.DisplayDuration
	if display <= 0 || display > segmentDuration {
		display = segmentDuration
	}
	switch c.Timing {
	case LabelTimingStart:
		return 0, display
	case LabelTimingEnd:
		return segmentDuration - display, segmentDuration
	default:
		return 0, segmentDuration
	}
}

var ErrRemoteURLAlreadySet = errors.New("final video remote url already set")

// FinalVideo 合成产物；RemoteURL 仅在发布成功后写入一次
type FinalVideo struct {
	LocalPath   string    `json:"local_path"`
	RemoteURL   string    `json:"remote_url,omitempty"`
	Duration    float64   `json:"duration"`
	Resolution  string    `json:"resolution"`
	AspectRatio string    `json:"aspect_ratio"`
	ByteSize    int64     `json:"byte_size"`
	CompletedAt time.Time `json:"completed_at"`
}

func (v *FinalVideo) SetRemoteURL(url string) error {
	if url == "" {
		return errors.New("empty remote url")
	}
	if v.RemoteURL != "" {
		return ErrRemoteURLAlreadySet
	}
	v.RemoteURL = url
	return nil
}

// CompositionDetails 随 FinalVideo 一起返回的时间清单
type CompositionDetails struct {
	VisualTimings   []VisualTiming `json:"visual_timings"`
	AudioPath       string         `json:"audio_path"`
	AudioDuration   float64        `json:"audio_duration"`
	IntroDuration   float64        `json:"intro_duration,omitempty"`
	VisualDuration  float64        `json:"visual_duration"`
	HasTextOverlays bool           `json:"has_text_overlays"`
}

func (d CompositionDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *CompositionDetails) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal composition details: %v", value)
	}
	return json.Unmarshal(bytes, d)
}
