package digest_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/evihash/internal/digest"
	"github.com/John-Robertt/evihash/internal/source"
)

func mem(data []byte) *source.Memory {
	return &source.Memory{FileName: "x.bin", Data: data}
}

func collect(t *testing.T, e digest.Engine, f source.File) (digest.Result, []int) {
	t.Helper()
	var progress []int
	res, err := e.Compute(context.Background(), f, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	return res, progress
}

func TestCompute_KnownValues(t *testing.T) {
	t.Parallel()

	res, progress := collect(t, digest.Engine{}, mem([]byte("hello")))

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", res.Fast)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res.Secure)
	assert.Equal(t, []int{100}, progress)
}

func TestCompute_EmptyInput(t *testing.T) {
	t.Parallel()

	res, progress := collect(t, digest.Engine{}, mem(nil))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", res.Fast)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", res.Secure)
	assert.Equal(t, []int{100}, progress)

	res, progress = collect(t, digest.Engine{Fast: digest.AlgBLAKE3}, mem([]byte{}))
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", res.Fast)
	assert.Equal(t, []int{100}, progress)
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("evidence-"), 1000)
	for _, alg := range []digest.Algorithm{digest.AlgMD5, digest.AlgBLAKE3} {
		e := digest.Engine{Fast: alg, ChunkSize: 1024}
		a, _ := collect(t, e, mem(data))
		b, _ := collect(t, e, mem(data))
		assert.Equal(t, a, b, "alg=%s", alg)
		wantLen := map[digest.Algorithm]int{digest.AlgMD5: 32, digest.AlgBLAKE3: 64}[alg]
		assert.Len(t, a.Fast, wantLen, "alg=%s", alg)
		assert.Len(t, a.Secure, 64)
	}
}

func TestCompute_ChunkedMatchesWholeAndProgressCadence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size, chunk int
		want        []int
	}{
		{size: 12, chunk: 3, want: []int{25, 50, 75, 100}},
		{size: 10, chunk: 3, want: []int{25, 50, 75, 100}},
		{size: 7, chunk: 3, want: []int{34, 67, 100}},
		{size: 3, chunk: 3, want: []int{100}},
		{size: 1, chunk: 4096, want: []int{100}},
	}
	for _, c := range cases {
		data := make([]byte, c.size)
		for i := range data {
			data[i] = byte(i * 7)
		}
		res, progress := collect(t, digest.Engine{ChunkSize: c.chunk}, mem(data))

		sumMD5 := md5.Sum(data)
		sumSHA := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sumMD5[:]), res.Fast)
		assert.Equal(t, hex.EncodeToString(sumSHA[:]), res.Secure)
		assert.Equal(t, c.want, progress, "size=%d chunk=%d", c.size, c.chunk)
	}
}

func TestCompute_ProgressNonDecreasingWithManyChunks(t *testing.T) {
	t.Parallel()

	// 300 块：相邻块的百分比会重复，但序列长度必须等于块数且以 100 结尾。
	_, progress := collect(t, digest.Engine{ChunkSize: 1}, mem(make([]byte, 300)))
	require.Len(t, progress, 300)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 100, progress[len(progress)-1])
}

type failingFile struct {
	source.Memory
	failAfter int
}

type failingReader struct {
	*bytes.Reader
	left int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.left <= 0 {
		return 0, errors.New("磁盘读取失败")
	}
	if len(p) > r.left {
		p = p[:r.left]
	}
	n, err := r.Reader.Read(p)
	r.left -= n
	return n, err
}

func (r *failingReader) Close() error { return nil }

func (f *failingFile) Open() (source.Reader, error) {
	return &failingReader{Reader: bytes.NewReader(f.Data), left: f.failAfter}, nil
}

func TestCompute_ReadFailureIsIOError(t *testing.T) {
	t.Parallel()

	f := &failingFile{Memory: source.Memory{FileName: "bad.bin", Data: make([]byte, 10)}, failAfter: 4}
	var progress []int
	_, err := digest.Engine{ChunkSize: 3}.Compute(context.Background(), f, func(p int) { progress = append(progress, p) })

	require.Error(t, err)
	assert.True(t, digest.IsIOError(err))
	var ioErr *digest.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "fast", ioErr.Phase)
	// 第一块成功，第二块失败。
	assert.Equal(t, []int{25}, progress)
}

type shortFile struct{ source.Memory }

func (f *shortFile) Size() int64 { return int64(len(f.Data)) + 5 }

func TestCompute_TruncatedSourceIsIOError(t *testing.T) {
	t.Parallel()

	_, err := digest.Engine{}.Compute(context.Background(), &shortFile{source.Memory{FileName: "t", Data: []byte("abc")}}, nil)
	require.Error(t, err)
	assert.True(t, digest.IsIOError(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCompute_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := digest.Engine{}.Compute(ctx, mem([]byte("abc")), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	a, err := digest.ParseAlgorithm(" BLAKE3 ")
	require.NoError(t, err)
	assert.Equal(t, digest.AlgBLAKE3, a)

	_, err = digest.ParseAlgorithm("crc32")
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, digest.Percent(0, 0))
	assert.Equal(t, 1, digest.Percent(1, 300))
	assert.Equal(t, 100, digest.Percent(5, 4))
}
