// Package archive 展开 ZIP 容器：列出条目，并把每个非目录条目物化为独立的内存文件。
//
// 只展开一层：条目本身是压缩包时按普通文件对待。
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ReadError 表示容器无法解析或条目无法读取。
// 调用方（ingest）的策略是退化为“把整个容器当作一个普通文件”。
type ReadError struct {
	Name  string // 容器文件名
	Entry string // 出错的条目；容器级错误为空
	Err   error
}

func (e *ReadError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("压缩包 %q 条目 %q 读取失败：%v", e.Name, e.Entry, e.Err)
	}
	return fmt.Sprintf("压缩包 %q 无法解析：%v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsReadError 判断 err 是否为 *ReadError。
func IsReadError(err error) bool {
	var e *ReadError
	return errors.As(err, &e)
}

var containerTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-zip":            true,
}

// IsContainer 按声明类型或文件名后缀判断是否为受支持的容器。
func IsContainer(name, declaredType string) bool {
	if containerTypes[strings.ToLower(strings.TrimSpace(declaredType))] {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

// Entry 是容器列表中的一项。
type Entry struct {
	Path  string
	IsDir bool
	Size  uint64

	f *zip.File
}

// Open 打开条目内容（已解压）。
func (e Entry) Open() (io.ReadCloser, error) {
	if e.f == nil {
		return nil, errors.New("条目不可读")
	}
	return e.f.Open()
}

// List 解析容器并按中央目录顺序返回全部条目（含目录标记）。
func List(r io.ReaderAt, size int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		name := entryName(f)
		entries = append(entries, Entry{
			Path:  name,
			IsDir: f.FileInfo().IsDir() || strings.HasSuffix(name, "/"),
			Size:  f.UncompressedSize64,
			f:     f,
		})
	}
	return entries, nil
}

// Expand 依次把每个非目录条目读入内存并交给 yield。
//
// 容器或条目读取失败返回 *ReadError；yield 返回的错误原样透传。
// 条目按容器顺序产出，同一时刻只持有一个条目的字节。
func Expand(name string, r io.ReaderAt, size int64, yield func(entryPath string, data []byte) error) error {
	entries, err := List(r, size)
	if err != nil {
		return &ReadError{Name: name, Err: err}
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		data, err := readEntry(e)
		if err != nil {
			return &ReadError{Name: name, Entry: e.Path, Err: err}
		}
		if err := yield(e.Path, data); err != nil {
			return err
		}
	}
	return nil
}

// BaseName 返回条目路径的最后一段。
func BaseName(entryPath string) string {
	b := path.Base(strings.TrimSuffix(entryPath, "/"))
	if b == "." || b == "/" {
		return entryPath
	}
	return b
}

func readEntry(e Entry) ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// 声明大小只用于预分配；zip 读取器在 EOF 时校验 CRC 与长度。
	capHint := e.Size
	if capHint > 64<<20 {
		capHint = 64 << 20
	}
	var buf bytes.Buffer
	buf.Grow(int(capHint))
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// entryName 规范化条目名：反斜杠转 '/'，去掉前导 '/' 与 "./"；
// 未声明 UTF-8 且不是合法 UTF-8 的名字按 GB18030 解码（常见于中文 Windows 打包）。
func entryName(f *zip.File) string {
	name := f.Name
	if f.NonUTF8 && !utf8.ValidString(name) {
		if decoded, err := simplifiedchinese.GB18030.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	name = strings.ReplaceAll(name, "\\", "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return strings.TrimLeft(name, "/")
}
