package resolve

import (
	"context"
	"encoding/json"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// EntryType 是条目的文件类型分类。
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
	EntryBlockDev  EntryType = "blockDevice"
	EntryCharDev   EntryType = "characterDevice"
	EntrySymlink   EntryType = "symlink"
	EntryFIFO      EntryType = "fifo"
	EntrySocket    EntryType = "socket"
	EntryUnknown   EntryType = "unknown"
)

// Entry 是目录树的一个节点，按请求即时构建，构建完成后不再修改。
// Files 为 nil 表示深度耗尽未展开，与空目录的空切片是两种不同状态。
type Entry struct {
	Path         string
	Type         EntryType
	ContentType  string
	Size         int64
	LastModified time.Time
	Files        []*Entry
}

// MarshalJSON 仅在节点被展开时输出 files 字段，
// 让“未展开”（无 files 键）与“空目录”（files: []）在 JSON 里保持可区分。
func (e *Entry) MarshalJSON() ([]byte, error) {
	type plain struct {
		Path         string    `json:"path"`
		Type         EntryType `json:"type"`
		ContentType  string    `json:"contentType,omitempty"`
		Size         int64     `json:"size,omitempty"`
		LastModified time.Time `json:"lastModified"`
	}
	p := plain{
		Path:         e.Path,
		Type:         e.Type,
		ContentType:  e.ContentType,
		Size:         e.Size,
		LastModified: e.LastModified,
	}
	if e.Files == nil {
		return json.Marshal(p)
	}
	return json.Marshal(struct {
		plain
		Files []*Entry `json:"files"`
	}{p, e.Files})
}

// Tree 从 baseDir 下的 relPath 开始构建目录树，最多展开 maxDepth 层。
// 文件节点只做 stat 与类型/大小/时间采集；目录节点列出直接子项，
// 同层子项并发 stat，父节点等待所有子树完成后才返回（层内并行、整体深度优先）。
// 任一子项 stat 失败都会让整棵子树构建失败，不产出半成品树。
func Tree(ctx context.Context, baseDir, relPath string, maxDepth int) (*Entry, error) {
	rel := path.Clean("/" + relPath)
	full := filepath.Join(baseDir, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	return buildEntry(ctx, full, rel, info, maxDepth)
}

func buildEntry(ctx context.Context, full, rel string, info fs.FileInfo, depth int) (*Entry, error) {
	entry := &Entry{
		Path:         rel,
		Type:         classifyMode(info.Mode()),
		LastModified: info.ModTime().UTC(),
	}

	if entry.Type != EntryDirectory {
		entry.ContentType = ContentType(full)
		entry.Size = info.Size()
		return entry, nil
	}
	if depth <= 0 {
		// 深度预算耗尽：不展开，Files 保持 nil
		return entry, nil
	}

	listing, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	// 子项保持目录列举返回的顺序，并发只用于 stat 与子树构建
	children := make([]*Entry, len(listing))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range listing {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			childFull := filepath.Join(full, item.Name())
			childInfo, err := os.Lstat(childFull)
			if err != nil {
				return err
			}
			child, err := buildEntry(gctx, childFull, path.Join(rel, item.Name()), childInfo, depth-1)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entry.Files = children
	return entry, nil
}

func classifyMode(mode fs.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return EntryFile
	case mode.IsDir():
		return EntryDirectory
	case mode&fs.ModeSymlink != 0:
		return EntrySymlink
	case mode&fs.ModeCharDevice != 0:
		return EntryCharDev
	case mode&fs.ModeDevice != 0:
		return EntryBlockDev
	case mode&fs.ModeNamedPipe != 0:
		return EntryFIFO
	case mode&fs.ModeSocket != 0:
		return EntrySocket
	default:
		return EntryUnknown
	}
}

// ContentType 按扩展名查 MIME 类型，未知扩展名回落 text/plain。
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain"
}
