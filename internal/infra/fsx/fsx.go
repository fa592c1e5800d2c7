// Package fsx 提供报告与缓存文件的原子写入。
package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 测试替换点：模拟 rename/link 失败。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// maxUniqueAttempts 是 WriteFileUnique 追加序号的上限。
const maxUniqueAttempts = 1000

// PathTypeConflictError 表示目标路径已存在但不是普通文件（例如是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFileAtomic 在 dir 下原子写入 name（同目录临时文件 + rename），已存在则覆盖。
// 用于缓存这类内部状态。
func WriteFileAtomic(dir, name string, data []byte) error {
	dst := filepath.Join(dir, name)
	if err := checkRegular(dst); err != nil {
		return err
	}
	return withTemp(dir, name, data, func(tmp string) error {
		if err := renameFunc(tmp, dst); err != nil {
			return err
		}
		return syncDirBestEffort(dir)
	})
}

// WriteFileUnique 写入 base+ext；若已存在则依次尝试 base_2+ext、base_3+ext……
// 从不覆盖已有文件，返回最终写入的文件名。
func WriteFileUnique(dir, base, ext string, data []byte) (string, error) {
	var name string
	err := withTemp(dir, base+ext, data, func(tmp string) error {
		for i := 1; i <= maxUniqueAttempts; i++ {
			name = base + ext
			if i > 1 {
				name = fmt.Sprintf("%s_%d%s", base, i, ext)
			}
			dst := filepath.Join(dir, name)
			if err := checkRegular(dst); err != nil {
				return err
			}
			// link 在目标存在时失败，天然不覆盖。
			err := linkFunc(tmp, dst)
			if err == nil {
				return syncDirBestEffort(dir)
			}
			if !errors.Is(err, os.ErrExist) {
				return err
			}
		}
		return fmt.Errorf("无法为 %q 找到可用文件名", base+ext)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func checkRegular(p string) error {
	fi, err := os.Lstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: p, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: p, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return nil
}

// withTemp 写出并 fsync 一个同目录临时文件，交给 commit 发布；返回前总会删除临时文件。
func withTemp(dir, name string, data []byte, commit func(tmp string) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+strings.TrimPrefix(name, ".")+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return commit(tmpName)
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 不可用。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer f.Close()
	_ = f.Sync()
	return nil
}
