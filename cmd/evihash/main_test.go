package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/evihash/internal/domain"
)

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func TestParseRunArgs_SetTracking(t *testing.T) {
	cli, help, err := parseRunArgs([]string{"a", "--cache=false", "-f", "csv,json", "--format", "html", "b", "--yield", "10ms"})
	require.NoError(t, err)
	require.False(t, help)

	assert.Equal(t, []string{"a", "b"}, cli.Paths)
	assert.True(t, cli.CacheSet, "--cache=false 应被记录为显式设置")
	assert.False(t, cli.Cache)
	assert.True(t, cli.FormatsSet)
	assert.Equal(t, []string{"csv", "json", "html"}, cli.Formats)
	assert.True(t, cli.YieldSet)
	assert.Equal(t, 10*time.Millisecond, cli.Yield)

	// 未给出的参数不应标记为已设置。
	assert.False(t, cli.FastSet)
	assert.False(t, cli.OutDirSet)
	assert.False(t, cli.ChunkSizeSet)
	assert.False(t, cli.LogLevelSet)
}

func TestParseRunArgs_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"--nope"},
		{"--chunk-size", "0"},
		{"--yield", "-1s"},
		{"--out", ""},
	} {
		_, _, err := parseRunArgs(args)
		assert.Error(t, err, "期望 %v 解析失败", args)
	}
	_, help, _ := parseRunArgs([]string{"-h"})
	assert.True(t, help, "-h 应返回 help")
}

func TestRunCmd_StdoutOnlyRunReportJSON(t *testing.T) {
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON（进度/配置走 stderr 或禁用）。
	cwd := t.TempDir()
	root := filepath.Join(cwd, "case")
	writeFile(t, filepath.Join(root, "a.txt"), []byte("hello"))
	writeFile(t, filepath.Join(root, "sub", "b.txt"), []byte(""))
	out := filepath.Join(cwd, "reports")

	var stdout, stderr bytes.Buffer
	code := runCmd(context.Background(), []string{"case", "--out", out, "-f", "csv,json,html", "--yield", "0s"}, cwd, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr), "stdout 不是合法的 RunReport JSON：%q", stdout.String())
	assert.NotContains(t, stdout.String(), "配置（生效）")
	assert.NotContains(t, stdout.String(), "进度:")

	assert.Equal(t, 2, rr.Summary.TotalFiles)
	assert.Equal(t, 2, rr.Summary.ProcessedCount)
	assert.Equal(t, "case/a.txt", rr.Records[0].Path)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", rr.Records[0].FastDigest)

	require.Len(t, rr.ReportFiles, 3)
	for _, p := range rr.ReportFiles {
		assert.Equal(t, out, filepath.Dir(p))
		assert.True(t, strings.HasPrefix(filepath.Base(p), "校验报告_"), "报告路径不符合预期：%q", p)
		assert.FileExists(t, p)
	}

	assert.Contains(t, stderr.String(), "完成：total=2 done=2 failed=0")
}

func TestRunCmd_ConfigErrorStillEmitsJSON(t *testing.T) {
	cwd := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := runCmd(context.Background(), nil, cwd, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var rr domain.RunReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rr), "stdout 不是合法 JSON")
	assert.Equal(t, "config_missing_path", rr.ErrorCode)
}

func TestRunCmd_UsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runCmd(context.Background(), []string{"--bogus"}, t.TempDir(), &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Zero(t, stdout.Len(), "参数错误时 stdout 应为空")
	assert.Contains(t, stderr.String(), "--chunk-size", "stderr 应包含用法说明")
}
