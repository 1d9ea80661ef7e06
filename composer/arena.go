package composer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ShortsComposer-server/media"
)

var contentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidContentID content id 会作为目录名和文件名使用
func ValidContentID(id string) bool {
	return contentIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// Arena 单次运行的临时目录，按分段 index 寻址。
// 每个分段只写自己的槽位和文件，并发写入不会冲突。
type Arena struct {
	root  string
	dir   string
	slots []media.Clip
}

// AcquireArena 在 root 下为本次运行创建独立目录 <contentID>-<随机后缀>，
// 同一 content id 的并发运行互不干扰
func AcquireArena(root, contentID string, segments int) (*Arena, error) {
	if !ValidContentID(contentID) {
		return nil, fmt.Errorf("invalid content id %q", contentID)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, contentID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Arena{root: root, dir: dir, slots: make([]media.Clip, segments)}, nil
}

func (a *Arena) Dir() string { return a.dir }

// RunID 本次运行的唯一标识（临时目录名）
func (a *Arena) RunID() string { return filepath.Base(a.dir) }

func (a *Arena) path(name string) string { return filepath.Join(a.dir, name) }

func (a *Arena) MotionPath(i int) string    { return a.path(fmt.Sprintf("segment_%03d_motion.mp4", i)) }
func (a *Arena) LabelPath(i int) string     { return a.path(fmt.Sprintf("segment_%03d_label.mp4", i)) }
func (a *Arena) LabelTextPath(i int) string { return a.path(fmt.Sprintf("segment_%03d_label.txt", i)) }
func (a *Arena) IntroPath() string          { return a.path("intro.mp4") }
func (a *Arena) IntroFramePath() string     { return a.path("intro_frame.png") }
func (a *Arena) IntroTextPath() string      { return a.path("intro_text.txt") }
func (a *Arena) IntroSubtextPath() string   { return a.path("intro_subtext.txt") }
func (a *Arena) ConcatListPath() string     { return a.path("concat.txt") }
func (a *Arena) ConcatPath() string         { return a.path("concat.mp4") }

// Put 记录分段 i 的最终片段
func (a *Arena) Put(i int, clip media.Clip) {
	a.slots[i] = clip
}

// Ordered 按 index 返回全部分段片段；任何缺失都属于内部一致性错误
func (a *Arena) Ordered() ([]media.Clip, error) {
	out := make([]media.Clip, len(a.slots))
	for i, clip := range a.slots {
		if clip.Path == "" {
			return nil, newError(KindInternalConsistency, media.StageConcat,
				fmt.Sprintf("segment %d has no rendered clip", i), nil)
		}
		if err := requireFile(clip.Path); err != nil {
			return nil, newError(KindInternalConsistency, media.StageConcat,
				fmt.Sprintf("segment %d clip is missing", i), err)
		}
		out[i] = clip
	}
	return out, nil
}

// Release 删除整个临时目录
func (a *Arena) Release() error {
	return safeRemoveAll(a.dir, a.root)
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// safeRemoveAll 只删除 prefix 之下（不等于 prefix）的路径
func safeRemoveAll(target, prefix string) error {
	cleanTarget := filepath.Clean(target)
	cleanPrefix := filepath.Clean(prefix)

	resolvedTarget, err := filepath.EvalSymlinks(cleanTarget)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolve scratch dir %q: %w", target, err)
	}
	resolvedPrefix, err := filepath.EvalSymlinks(cleanPrefix)
	if err != nil {
		return fmt.Errorf("resolve scratch root %q: %w", prefix, err)
	}

	prefixWithSep := resolvedPrefix
	if !strings.HasSuffix(prefixWithSep, string(filepath.Separator)) {
		prefixWithSep += string(filepath.Separator)
	}
	if !strings.HasPrefix(resolvedTarget, prefixWithSep) {
		return fmt.Errorf("refusing to remove %q: not under scratch root %q", target, prefix)
	}
	return os.RemoveAll(cleanTarget)
}
