// Package ingest 把一批异构输入（普通文件、目录来源文件、压缩包）规范化为扁平的记录序列。
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/John-Robertt/evihash/internal/archive"
	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/source"
)

// Item 是一条新记录及其字节源（字节源归记录所有，直到摘要计算完成）。
type Item struct {
	Record domain.Record
	Source source.File
}

// Normalizer 按输入顺序逐个产出记录。零值可用。
type Normalizer struct {
	// NewID 生成记录 ID；nil 时使用随机 UUID。
	NewID  func() string
	Logger *slog.Logger
}

// Normalize 对每个输入文件调用一次或多次 emit（每发现一个文件一次）。
//
// - 压缩包：每个非目录条目一条记录，path = 容器名 + "/" + 条目路径
// - 压缩包无法解析：退化为整个容器一条记录（从不静默丢弃输入）
// - 其他：一条记录，path 为目录相对路径（若有），否则为文件名
//
// 只在 ctx 取消时返回错误。
func (n Normalizer) Normalize(ctx context.Context, files []source.File, emit func(Item)) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f == nil {
			continue
		}
		if archive.IsContainer(f.Name(), f.DeclaredType()) {
			items, err := n.expand(f)
			if err == nil {
				for _, it := range items {
					emit(it)
				}
				continue
			}
			n.logger().Warn("压缩包展开失败，按普通文件处理",
				"name", f.Name(),
				"error", err,
			)
		}
		emit(n.single(f))
	}
	return nil
}

// expand 先把容器条目全部收集完再返回：中途失败时不留下半截记录。
func (n Normalizer) expand(f source.File) ([]Item, error) {
	r, err := f.Open()
	if err != nil {
		return nil, &archive.ReadError{Name: f.Name(), Err: err}
	}
	defer r.Close()

	container := f.Name()
	var items []Item
	err = archive.Expand(container, r, f.Size(), func(entryPath string, data []byte) error {
		name := archive.BaseName(entryPath)
		rec := domain.NewRecord(n.id(), name, container+"/"+entryPath, int64(len(data)), domain.KindExtracted)
		items = append(items, Item{
			Record: rec,
			Source: &source.Memory{FileName: name, Data: data},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (n Normalizer) single(f source.File) Item {
	p := f.RelativePath()
	if p == "" {
		p = f.Name()
	}
	return Item{
		Record: domain.NewRecord(n.id(), f.Name(), p, f.Size(), domain.KindFile),
		Source: f,
	}
}

func (n Normalizer) id() string {
	if n.NewID != nil {
		return n.NewID()
	}
	return uuid.NewString()
}

func (n Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.New(slog.DiscardHandler)
}
