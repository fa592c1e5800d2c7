// Package digest 计算单个文件的两个摘要：分块增量的快速摘要，和整份内容的安全摘要。
package digest

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/John-Robertt/evihash/internal/source"
)

// DefaultChunkSize 是快速摘要的固定分块大小（2 MiB）。
const DefaultChunkSize = 2 << 20

// Algorithm 标识快速摘要算法。
type Algorithm string

const (
	AlgMD5    Algorithm = "md5"
	AlgBLAKE3 Algorithm = "blake3"
)

// SecureAlgorithm 是安全摘要的算法名（固定 SHA-256）。
const SecureAlgorithm = "sha256"

// ParseAlgorithm 解析快速摘要算法名（大小写不敏感）。
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case AlgMD5:
		return AlgMD5, nil
	case AlgBLAKE3:
		return AlgBLAKE3, nil
	default:
		return "", fmt.Errorf("fast_algorithm 只能是 md5 或 blake3，实际是 %q", s)
	}
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case AlgBLAKE3:
		return blake3.New()
	default:
		return md5.New()
	}
}

// Result 是一次计算得到的两个摘要（小写十六进制）。
type Result struct {
	Fast   string
	Secure string
}

// IOError 表示字节源无法被完整读取（打开失败、读失败或提前 EOF）。
type IOError struct {
	Name  string
	Phase string // "open" / "fast" / "secure"
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("读取 %q 失败（%s）：%v", e.Name, e.Phase, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError 判断 err 是否为 *IOError。
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// Engine 是无状态的摘要引擎；零值可用（md5 + 2 MiB 分块）。
type Engine struct {
	Fast      Algorithm
	ChunkSize int
}

func (e Engine) algorithm() Algorithm {
	if e.Fast == "" {
		return AlgMD5
	}
	return e.Fast
}

func (e Engine) chunkSize() int {
	if e.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return e.ChunkSize
}

// FastAlgorithm 返回实际使用的快速摘要算法名。
func (e Engine) FastAlgorithm() Algorithm { return e.algorithm() }

// Compute 先按固定分块顺序计算快速摘要，每块结束回调一次 onProgress；
// 随后再完整读一遍内容计算安全摘要（这一阶段不报告进度）。
//
// 进度：p = ceil(100 * consumed / total)，上限 100；空输入直接回调一次 100。
// onProgress 可以为 nil。ctx 只在块与块之间检查。
func (e Engine) Compute(ctx context.Context, f source.File, onProgress func(int)) (Result, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	size := f.Size()
	chunk := int64(e.chunkSize())
	total := (size + chunk - 1) / chunk

	fast, err := e.fastDigest(ctx, f, size, chunk, total, onProgress)
	if err != nil {
		return Result{}, err
	}
	secure, err := secureDigest(ctx, f, size)
	if err != nil {
		return Result{}, err
	}
	return Result{Fast: fast, Secure: secure}, nil
}

func (e Engine) fastDigest(ctx context.Context, f source.File, size, chunk, total int64, onProgress func(int)) (string, error) {
	h := e.algorithm().newHash()

	if total == 0 {
		onProgress(100)
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	r, err := f.Open()
	if err != nil {
		return "", &IOError{Name: f.Name(), Phase: "open", Err: err}
	}
	defer r.Close()

	buf := make([]byte, chunk)
	var consumed int64
	for i := int64(1); i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := chunk
		if rem := size - consumed; rem < n {
			n = rem
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return "", &IOError{Name: f.Name(), Phase: "fast", Err: err}
		}
		h.Write(buf[:n])
		consumed += n
		onProgress(Percent(i, total))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func secureDigest(ctx context.Context, f source.File, size int64) (string, error) {
	h := sha256.New()
	if size == 0 {
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r, err := f.Open()
	if err != nil {
		return "", &IOError{Name: f.Name(), Phase: "open", Err: err}
	}
	defer r.Close()

	n, err := io.Copy(h, io.LimitReader(r, size))
	if err != nil {
		return "", &IOError{Name: f.Name(), Phase: "secure", Err: err}
	}
	if n != size {
		return "", &IOError{Name: f.Name(), Phase: "secure", Err: io.ErrUnexpectedEOF}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Percent 计算 ceil(100*done/total)，并截断到 [0, 100]；total<=0 视为已完成。
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := (100*done + total - 1) / total
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return int(p)
}
