package composer

import (
	"testing"

	"ShortsComposer-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeScript(n int) []models.ScriptSegment {
	out := make([]models.ScriptSegment, n)
	for i := range out {
		out[i] = models.ScriptSegment{Index: i, Duration: 6, Narration: "line", VisualKind: models.VisualGeneratedImage}
	}
	return out
}

func makeAssets(durations ...float64) []models.GeneratedAsset {
	out := make([]models.GeneratedAsset, len(durations))
	for i, d := range durations {
		out[i] = models.GeneratedAsset{Index: i, Path: "/assets/" + string(rune('a'+i)) + ".png", Width: 1080, Height: 1920, Duration: d}
	}
	return out
}

func TestResolveVisualTimings_UsesSegmentTimings(t *testing.T) {
	script := makeScript(3)
	assets := makeAssets(6, 6, 6)
	timings := []models.SegmentTiming{
		{Index: 0, Start: 0, End: 4.2},
		{Index: 1, Start: 4.2, End: 11},
		{Index: 2, Start: 11, End: 18.5},
	}

	got, err := ResolveVisualTimings(script, assets, timings, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 4.2, got[0].Duration, 1e-9)
	assert.InDelta(t, 6.8, got[1].Duration, 1e-9)
	assert.InDelta(t, 7.5, got[2].Duration, 1e-9)
	assert.Equal(t, 11.0, got[2].Start)
	assert.InDelta(t, 18.5, VisualDuration(got), 1e-9)
	for _, v := range got {
		assert.Equal(t, models.MotionZoomIn, v.Motion)
	}
}

func TestResolveVisualTimings_FallbackUsesAssetDuration(t *testing.T) {
	script := makeScript(3)
	assets := makeAssets(5, 7, 7)

	got, err := ResolveVisualTimings(script, assets, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got[0].Start)
	assert.Equal(t, 5.0, got[0].End)
	// 回退区间按 i*d 计算，不是累加
	assert.Equal(t, 7.0, got[1].Start)
	assert.Equal(t, 14.0, got[1].End)
	assert.Equal(t, 7.0, got[1].Duration)
	assert.Equal(t, 19.0, VisualDuration(got))
}

func TestResolveVisualTimings_PartialTimings(t *testing.T) {
	script := makeScript(2)
	assets := makeAssets(6, 6)
	got, err := ResolveVisualTimings(script, assets, []models.SegmentTiming{{Index: 1, Start: 5, End: 9}}, false)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got[0].Duration)
	assert.Equal(t, 4.0, got[1].Duration)
}

func TestResolveVisualTimings_Idempotent(t *testing.T) {
	script := []models.ScriptSegment{
		{Index: 2, TextOverlay: "  third  "},
		{Index: 0, TextOverlay: "first"},
		{Index: 1},
	}
	assets := []models.GeneratedAsset{
		{Index: 1, Path: "/b.png", Duration: 4},
		{Index: 2, Path: "/c.png", Duration: 4},
		{Index: 0, Path: "/a.png", Duration: 4},
	}
	first, err := ResolveVisualTimings(script, assets, nil, true)
	require.NoError(t, err)
	second, err := ResolveVisualTimings(script, assets, nil, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, "/a.png", first[0].AssetPath)
	assert.Equal(t, "first", first[0].TextOverlay)
	assert.Equal(t, "third", first[2].TextOverlay)
	assert.Equal(t, models.MotionZoomOut, first[1].Motion)
	assert.Equal(t, models.MotionZoomIn, first[2].Motion)

	// 输入未被修改
	assert.Equal(t, 2, script[0].Index)
	assert.Equal(t, 1, assets[0].Index)
}

func TestResolveVisualTimings_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  []models.ScriptSegment
		assets  []models.GeneratedAsset
		timings []models.SegmentTiming
	}{
		{"count mismatch", makeScript(5), makeAssets(6, 6, 6, 6), nil},
		{"empty", nil, nil, nil},
		{"gap in indices", []models.ScriptSegment{{Index: 0}, {Index: 2}}, makeAssets(6, 6), nil},
		{"asset gap", makeScript(2), []models.GeneratedAsset{{Index: 0, Duration: 1}, {Index: 3, Duration: 1}}, nil},
		{"zero fallback duration", makeScript(1), makeAssets(0), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveVisualTimings(tt.script, tt.assets, tt.timings, false)
			require.Error(t, err)
			assert.Equal(t, KindInputMismatch, KindOf(err))
			ce, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, StageResolve, ce.Stage)
		})
	}
}

func TestBuildSegmentTimings(t *testing.T) {
	script := []models.ScriptSegment{{Index: 0, Narration: "hello"}, {Index: 1, Narration: "world"}}
	voice := models.VoiceoverResult{
		AudioPath: "/v.mp3",
		Duration:  9,
		Segments: []models.SegmentTiming{
			{Index: 1, Start: 4, End: 9},
			{Index: 0, Start: 0, End: 4},
		},
	}
	got, err := BuildSegmentTimings(script, voice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "hello", got[0].Narration)
	assert.Equal(t, 4.0, got[0].Duration)
	assert.Equal(t, 5.0, got[1].Duration)

	none, err := BuildSegmentTimings(script, models.VoiceoverResult{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBuildSegmentTimings_Errors(t *testing.T) {
	script := makeScript(2)
	tests := []struct {
		name     string
		segments []models.SegmentTiming
	}{
		{"out of range", []models.SegmentTiming{{Index: 2, Start: 0, End: 1}}},
		{"negative index", []models.SegmentTiming{{Index: -1, Start: 0, End: 1}}},
		{"duplicate", []models.SegmentTiming{{Index: 0, Start: 0, End: 1}, {Index: 0, Start: 1, End: 2}}},
		{"empty span", []models.SegmentTiming{{Index: 0, Start: 3, End: 3}}},
		{"negative start", []models.SegmentTiming{{Index: 0, Start: -1, End: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSegmentTimings(script, models.VoiceoverResult{Segments: tt.segments})
			assert.Equal(t, KindInputMismatch, KindOf(err))
		})
	}
}
