// Package source 定义流水线消费的“文件句柄”边界。
//
// 核心流程只依赖 File 接口：名字、可选的目录相对路径、声明类型、大小，
// 以及一次 Open 得到的读取器（顺序分块读 + 随机读）。
package source

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Reader 同时支持顺序分块读取（Read）与整块随机读取（ReadAt）。
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// File 是一个不透明的、携带字节内容的输入文件。
type File interface {
	// Name 是展示名（最后一段路径）。
	Name() string
	// RelativePath 仅在文件来自目录选择时非空，形如 "root/sub/a.txt"。
	RelativePath() string
	// DeclaredType 是类 MIME 提示，只用于识别压缩包。
	DeclaredType() string
	// Size 是字节长度，创建时固定。
	Size() int64
	// Open 返回一个新的读取器；每次调用都从头开始。
	Open() (Reader, error)
}

// Fingerprinted 由磁盘文件实现，用于摘要缓存判断“内容是否可能变化”。
type Fingerprinted interface {
	Fingerprint() Fingerprint
}

// Fingerprint 是磁盘文件的身份三元组。
type Fingerprint struct {
	AbsPath string
	Size    int64
	ModUnix int64
}

// Disk 是磁盘上的文件（只做 stat，Open 时才读内容）。
type Disk struct {
	AbsPath string
	RelPath string // 目录选择得到的相对路径；单文件输入为空
	size    int64
	modTime time.Time
}

// NewDisk 对 abs 做一次 stat 并构造 Disk。rel 为空表示不是目录来源。
func NewDisk(abs, rel string) (*Disk, error) {
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("不是普通文件：%q", abs)
	}
	return &Disk{
		AbsPath: filepath.Clean(abs),
		RelPath: filepath.ToSlash(rel),
		size:    fi.Size(),
		modTime: fi.ModTime(),
	}, nil
}

func (d *Disk) Name() string         { return filepath.Base(d.AbsPath) }
func (d *Disk) RelativePath() string { return d.RelPath }
func (d *Disk) Size() int64          { return d.size }

func (d *Disk) DeclaredType() string {
	return TypeByName(d.Name())
}

func (d *Disk) Open() (Reader, error) {
	return os.Open(d.AbsPath)
}

func (d *Disk) Fingerprint() Fingerprint {
	return Fingerprint{AbsPath: d.AbsPath, Size: d.size, ModUnix: d.modTime.UnixNano()}
}

// Memory 是完全驻留内存的文件（压缩包条目、测试数据）。
type Memory struct {
	FileName string
	RelPath  string
	Type     string
	Data     []byte
}

func (m *Memory) Name() string         { return m.FileName }
func (m *Memory) RelativePath() string { return m.RelPath }
func (m *Memory) Size() int64          { return int64(len(m.Data)) }

func (m *Memory) DeclaredType() string {
	if m.Type != "" {
		return m.Type
	}
	return TypeByName(m.FileName)
}

func (m *Memory) Open() (Reader, error) {
	return nopCloser{bytes.NewReader(m.Data)}, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// knownTypes 优先于系统 mime 表（系统表不保证包含 .zip）。
var knownTypes = map[string]string{
	".zip": "application/zip",
}

// TypeByName 按扩展名推断声明类型；未知时返回空串。
func TypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
