package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"ShortsComposer-server/models"
)

// supersample zoompan 前的放大倍数，减小整数取整带来的抖动
const supersample = 2

// ff 统一的浮点格式，保证同样输入生成同样的参数
func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// fillFilter 按比例缩放并居中裁切铺满 w x h
func fillFilter(w, h int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", w, h, w, h)
}

// ZoomIncrement 每帧缩放增量 (endZoom - 1) / frames
func ZoomIncrement(endZoom float64, frames int) float64 {
	if frames <= 0 {
		return 0
	}
	return (endZoom - 1) / float64(frames)
}

// motionFilter 图片铺满后在 frames 帧内从 1.0 线性缩放到 endZoom（zoom_out 反向）
func motionFilter(spec OutputSpec, frames int, motion models.MotionDirection) string {
	inc := ZoomIncrement(spec.EndZoom, frames)
	zoom := fmt.Sprintf("1+on*%s", strconv.FormatFloat(inc, 'g', 10, 64))
	if motion == models.MotionZoomOut {
		zoom = fmt.Sprintf("%s-on*%s", ff(spec.EndZoom), strconv.FormatFloat(inc, 'g', 10, 64))
	}
	return strings.Join([]string{
		fillFilter(spec.Width*supersample, spec.Height*supersample),
		fmt.Sprintf("zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d",
			zoom, frames, spec.Width, spec.Height, spec.FPS),
		"format=yuv420p",
	}, ",")
}

// alphaExpr drawtext 的透明度表达式，窗口为 [start, end]
func alphaExpr(anim models.TextAnimation, start, end, fade float64) string {
	window := end - start
	if fade <= 0 || window <= 0 {
		return "1"
	}
	if anim == models.AnimationFadeBoth && fade > window/2 {
		fade = window / 2
	} else if fade > window {
		fade = window
	}
	in := fmt.Sprintf("if(lt(t,%s),(t-%s)/%s,1)", ff(start+fade), ff(start), ff(fade))
	out := fmt.Sprintf("if(gt(t,%s),(%s-t)/%s,1)", ff(end-fade), ff(end), ff(fade))
	switch anim {
	case models.AnimationFadeIn:
		return in
	case models.AnimationFadeOut:
		return out
	case models.AnimationFadeBoth:
		return fmt.Sprintf("min(%s,%s)", in, out)
	default:
		return "1"
	}
}

// anchorY 文字块顶部的像素位置
func anchorY(pos models.TextPosition, height, blockHeight int) int {
	switch pos {
	case models.PositionTop:
		return height * 12 / 100
	case models.PositionBottom:
		return height*82/100 - blockHeight
	default:
		return (height - blockHeight) / 2
	}
}

// drawText 单个 drawtext 滤镜
type drawText struct {
	TextFile  string
	Font      string
	FontSize  int
	FontColor string
	Y         int
	Alpha     string
	Start     float64
	End       float64
	Box       bool
	BoxColor  string
	BoxBorder int
}

func (d drawText) String() string {
	opts := []string{
		fmt.Sprintf("textfile='%s'", d.TextFile),
	}
	if font := fontOption(d.Font); font != "" {
		opts = append(opts, font)
	}
	color := d.FontColor
	if color == "" {
		color = "white"
	}
	opts = append(opts,
		fmt.Sprintf("fontsize=%d", d.FontSize),
		"fontcolor="+color,
		"x=(w-text_w)/2",
		fmt.Sprintf("y=%d", d.Y),
	)
	if d.Alpha != "" && d.Alpha != "1" {
		opts = append(opts, fmt.Sprintf("alpha='%s'", d.Alpha))
	}
	if d.End > d.Start {
		opts = append(opts, fmt.Sprintf("enable='between(t,%s,%s)'", ff(d.Start), ff(d.End)))
	}
	if d.Box {
		opts = append(opts, "box=1", "boxcolor="+d.BoxColor, fmt.Sprintf("boxborderw=%d", d.BoxBorder))
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// fontOption 路径形式使用 fontfile，否则按字体族名交给 fontconfig
func fontOption(font string) string {
	if font == "" {
		return ""
	}
	switch strings.ToLower(filepath.Ext(font)) {
	case ".ttf", ".otf", ".ttc":
		return fmt.Sprintf("fontfile='%s'", font)
	}
	if strings.ContainsRune(font, '/') {
		return fmt.Sprintf("fontfile='%s'", font)
	}
	return fmt.Sprintf("font='%s'", font)
}

// colorWithOpacity ffmpeg 颜色语法 color@opacity，opacity <= 0 为完全透明
func colorWithOpacity(color string, opacity float64) string {
	if opacity >= 1 {
		return color
	}
	if opacity < 0 {
		opacity = 0
	}
	return color + "@" + strconv.FormatFloat(opacity, 'f', 2, 64)
}

// labelFilter 分段标签的 drawtext
func labelFilter(spec OutputSpec, cfg models.SegmentLabelConfig, textFile string, duration float64) string {
	start, end := cfg.LabelWindow(duration)
	dt := drawText{
		TextFile:  textFile,
		Font:      cfg.Font,
		FontSize:  cfg.FontSize,
		FontColor: cfg.TextColor,
		Y:         anchorY(cfg.Position, spec.Height, cfg.FontSize+2*cfg.Padding) + cfg.Padding,
		Alpha:     alphaExpr(cfg.Animation, start, end, cfg.FadeDuration),
		Start:     start,
		End:       end,
	}
	if cfg.BackgroundColor != "" {
		dt.Box = true
		dt.BoxColor = colorWithOpacity(cfg.BackgroundColor, cfg.BackgroundOpacity)
		dt.BoxBorder = cfg.Padding
	}
	return dt.String() + ",format=yuv420p"
}

// introTextFilters 片头主标题与副标题
func introTextFilters(spec OutputSpec, cfg models.IntroConfig, textFile, subtextFile string) []string {
	block := cfg.FontSize
	if subtextFile != "" {
		block += cfg.SubtextFontSize * 3 / 2
	}
	top := anchorY(cfg.Position, spec.Height, block)
	alpha := alphaExpr(cfg.Animation, 0, cfg.Duration, cfg.FadeDuration)

	filters := []string{drawText{
		TextFile:  textFile,
		Font:      cfg.Font,
		FontSize:  cfg.FontSize,
		FontColor: cfg.TextColor,
		Y:         top,
		Alpha:     alpha,
	}.String()}
	if subtextFile != "" {
		filters = append(filters, drawText{
			TextFile:  subtextFile,
			Font:      cfg.Font,
			FontSize:  cfg.SubtextFontSize,
			FontColor: cfg.TextColor,
			Y:         top + cfg.FontSize + cfg.SubtextFontSize/2,
			Alpha:     alpha,
		}.String())
	}
	return filters
}

// concatList ffmpeg concat demuxer 的列表文件内容
func concatList(inputs []Clip) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(in.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// filterSafe 滤镜参数内的路径不能包含需要多层转义的字符
func filterSafe(path string) error {
	if strings.ContainsAny(path, `':\,;[]`) {
		return fmt.Errorf("path %q contains characters not allowed in a filter argument", path)
	}
	return nil
}
