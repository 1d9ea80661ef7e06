package composer

import (
	"sort"
	"strings"

	"ShortsComposer-server/models"
)

// BuildSegmentTimings 把配音合成得到的分段边界整理成权威时间表：
// 按 index 排序，旁白文本取自脚本，时长由起止时间得出。
// 配音没有提供分段边界时返回 nil。
func BuildSegmentTimings(script []models.ScriptSegment, voice models.VoiceoverResult) ([]models.SegmentTiming, error) {
	if len(voice.Segments) == 0 {
		return nil, nil
	}
	narration := make(map[int]string, len(script))
	for _, s := range script {
		narration[s.Index] = s.Narration
	}

	seen := make(map[int]bool, len(voice.Segments))
	out := make([]models.SegmentTiming, 0, len(voice.Segments))
	for _, t := range voice.Segments {
		if t.Index < 0 || t.Index >= len(script) {
			return nil, resolveError("segment timing index %d out of range [0,%d)", t.Index, len(script))
		}
		if seen[t.Index] {
			return nil, resolveError("duplicate segment timing for index %d", t.Index)
		}
		seen[t.Index] = true
		if t.Start < 0 || t.End <= t.Start {
			return nil, resolveError("segment timing %d has invalid range %.3f-%.3f", t.Index, t.Start, t.End)
		}
		t.Duration = t.End - t.Start
		if t.Narration == "" {
			t.Narration = narration[t.Index]
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// ResolveVisualTimings 生成每个分段的画面时间表。
// 有 SegmentTiming 的分段使用其起止时间，否则按素材自身的名义时长回退为
// [i*d, (i+1)*d]。纯函数：同样的输入总是得到同样的输出。
func ResolveVisualTimings(script []models.ScriptSegment, assets []models.GeneratedAsset, timings []models.SegmentTiming, alternateMotion bool) ([]models.VisualTiming, error) {
	if len(script) != len(assets) {
		return nil, resolveError("script has %d segments but %d generated assets", len(script), len(assets))
	}
	if len(script) == 0 {
		return nil, resolveError("script has no segments")
	}

	segs := append([]models.ScriptSegment(nil), script...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
	arts := append([]models.GeneratedAsset(nil), assets...)
	sort.SliceStable(arts, func(i, j int) bool { return arts[i].Index < arts[j].Index })

	byIndex := make(map[int]models.SegmentTiming, len(timings))
	for _, t := range timings {
		byIndex[t.Index] = t
	}

	out := make([]models.VisualTiming, len(segs))
	for i := range segs {
		if segs[i].Index != i {
			return nil, resolveError("script segment indices are not contiguous: position %d has index %d", i, segs[i].Index)
		}
		if arts[i].Index != i {
			return nil, resolveError("asset indices are not contiguous: position %d has index %d", i, arts[i].Index)
		}

		v := models.VisualTiming{
			Index:       i,
			AssetPath:   arts[i].Path,
			TextOverlay: strings.TrimSpace(segs[i].TextOverlay),
			Motion:      models.MotionZoomIn,
		}
		if t, ok := byIndex[i]; ok {
			v.Start, v.End, v.Duration = t.Start, t.End, t.End-t.Start
		} else {
			d := arts[i].Duration
			v.Start, v.End, v.Duration = float64(i)*d, float64(i+1)*d, d
		}
		if v.Duration <= 0 {
			return nil, resolveError("segment %d has non-positive duration %.3f", i, v.Duration)
		}
		if alternateMotion && i%2 == 1 {
			v.Motion = models.MotionZoomOut
		}
		out[i] = v
	}
	return out, nil
}

// VisualDuration 所有分段时长之和
func VisualDuration(timings []models.VisualTiming) float64 {
	var total float64
	for _, t := range timings {
		total += t.Duration
	}
	return total
}

func resolveError(format string, args ...interface{}) *Error {
	e := inputMismatch(format, args...)
	e.Stage = StageResolve
	return e
}
