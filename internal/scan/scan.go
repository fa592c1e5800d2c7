// Package scan 把命令行给出的路径（文件或目录）展开为待处理的磁盘文件列表。
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/evihash/internal/source"
)

// CacheDirName 是摘要缓存目录名；扫描时永久排除。
const CacheDirName = ".evihash"

// Collect 按 roots 的顺序收集文件。
//
// 规则：
// - root 是文件：一条记录，RelativePath 为空（按文件名展示）
// - root 是目录：递归收集普通文件，RelativePath 形如 "<root 目录名>/sub/a.txt"，按路径排序
// - 永久排除名为 .evihash 的目录
// - excludeDirs：相对路径按每个目录 root 解析；绝对路径按原样处理
//
// 各 root 并发扫描；任何一个 root 出错即返回错误。扫描阶段只做 stat，不读文件内容。
func Collect(ctx context.Context, roots []string, excludeDirs []string) ([]source.File, error) {
	results := make([][]source.File, len(roots))

	g, ctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			files, err := collectRoot(ctx, root, excludeDirs)
			if err != nil {
				return fmt.Errorf("扫描 %q 失败：%w", root, err)
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]source.File, 0, 128)
	for _, files := range results {
		out = append(out, files...)
	}
	return out, nil
}

func collectRoot(ctx context.Context, root string, excludeDirs []string) ([]source.File, error) {
	abs, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		d, err := source.NewDisk(abs, "")
		if err != nil {
			return nil, err
		}
		return []source.File{d}, nil
	}

	excluded := buildExcluded(abs, excludeDirs)
	base := filepath.Base(abs)

	files := make([]*source.Disk, 0, 128)
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != abs && (d.Name() == CacheDirName || isExcluded(path, excluded)) {
				return filepath.SkipDir
			}
			return nil
		}
		if isExcluded(path, excluded) || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		df, err := source.NewDisk(path, filepath.Join(base, rel))
		if err != nil {
			return err
		}
		files = append(files, df)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同文件系统的遍历顺序差异。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })

	out := make([]source.File, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	return out, nil
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
