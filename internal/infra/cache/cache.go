// Package cache 持久化磁盘文件的摘要结果，按文件指纹（路径+大小+修改时间）命中。
//
// 缓存文件是 zstd 压缩的 CBOR（确定性编码），写入走 fsx 原子替换。
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/John-Robertt/evihash/internal/digest"
	"github.com/John-Robertt/evihash/internal/infra/fsx"
	"github.com/John-Robertt/evihash/internal/source"
)

// FileName 是缓存文件在缓存目录下的文件名。
const FileName = "digests.cbor.zst"

const formatVersion = 1

var ErrReadOnly = errors.New("cache: read-only")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
}

// Entry 是一条缓存的摘要结果。
type Entry struct {
	Size    int64  `cbor:"size"`
	ModUnix int64  `cbor:"mod"`
	Fast    string `cbor:"fast"`
	Secure  string `cbor:"secure"`
}

type fileFormat struct {
	Version int              `cbor:"v"`
	Entries map[string]Entry `cbor:"entries"`
}

// Store 是内存中的缓存表；Save 时整体落盘。并发安全。
type Store struct {
	Dir      string
	ReadOnly bool

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// Open 从 dir 加载缓存；文件不存在时返回空表。
// 缓存损坏不视为致命：返回空表与错误，调用方可以只记日志后继续。
func Open(dir string, readOnly bool) (*Store, error) {
	s := &Store{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		ReadOnly: readOnly,
		entries:  make(map[string]Entry),
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	ff, err := decode(b)
	if err != nil {
		return s, fmt.Errorf("缓存文件损坏：%w", err)
	}
	if ff.Version == formatVersion && ff.Entries != nil {
		s.entries = ff.Entries
	}
	return s, nil
}

// Path 返回缓存文件的绝对路径。
func (s *Store) Path() string {
	return filepath.Join(s.Dir, FileName)
}

func key(alg digest.Algorithm, absPath string) string {
	return string(alg) + "\x00" + absPath
}

// Lookup 在指纹完全一致时返回缓存结果。
func (s *Store) Lookup(alg digest.Algorithm, fp source.Fingerprint) (digest.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(alg, fp.AbsPath)]
	if !ok || e.Size != fp.Size || e.ModUnix != fp.ModUnix || e.Fast == "" || e.Secure == "" {
		return digest.Result{}, false
	}
	return digest.Result{Fast: e.Fast, Secure: e.Secure}, true
}

// Put 记录一次计算结果；只读模式下静默忽略。
func (s *Store) Put(alg digest.Algorithm, fp source.Fingerprint, res digest.Result) {
	if s.ReadOnly {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(alg, fp.AbsPath)] = Entry{Size: fp.Size, ModUnix: fp.ModUnix, Fast: res.Fast, Secure: res.Secure}
	s.dirty = true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Save 在有改动时把缓存原子写回磁盘。
func (s *Store) Save() error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	b, err := encode(fileFormat{Version: formatVersion, Entries: s.entries})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(s.Dir, FileName, b); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func encode(ff fileFormat) ([]byte, error) {
	raw, err := encMode.Marshal(ff)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(b []byte) (fileFormat, error) {
	var ff fileFormat
	zr, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return ff, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return ff, err
	}
	err = cbor.Unmarshal(raw, &ff)
	return ff, err
}

// Inner 是被缓存包装的摘要计算器。
type Inner interface {
	Compute(ctx context.Context, f source.File, onProgress func(int)) (digest.Result, error)
}

// Hasher 在 Inner 之前查缓存：只有实现 source.Fingerprinted 的文件（磁盘文件）参与缓存。
// 命中时直接回调一次 100 并返回。
type Hasher struct {
	Inner     Inner
	Algorithm digest.Algorithm
	Store     *Store
}

func (h Hasher) Compute(ctx context.Context, f source.File, onProgress func(int)) (digest.Result, error) {
	fpf, ok := f.(source.Fingerprinted)
	if !ok || h.Store == nil {
		return h.Inner.Compute(ctx, f, onProgress)
	}
	fp := fpf.Fingerprint()
	if res, hit := h.Store.Lookup(h.Algorithm, fp); hit {
		if onProgress != nil {
			onProgress(100)
		}
		return res, nil
	}
	res, err := h.Inner.Compute(ctx, f, onProgress)
	if err != nil {
		return res, err
	}
	h.Store.Put(h.Algorithm, fp, res)
	return res, nil
}
