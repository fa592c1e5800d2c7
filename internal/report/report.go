// Package report 把记录序列渲染成导出格式（CSV/JSON/HTML），并提供表格搜索过滤。
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/infra/fsx"
)

// Placeholder 是摘要尚未计算时导出的占位文本。
const Placeholder = "计算中..."

// BaseName 是报告文件名前缀（后接日期）。
const BaseName = "校验报告"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row 是导出表格的一行。
type Row struct {
	Path      string
	Name      string
	HumanSize string
	Bytes     int64
	Fast      string
	Secure    string
	Status    string
}

// Headers 返回导出列名；快速摘要列名跟随实际算法（MD5校验值 / BLAKE3校验值）。
func Headers(fastAlgorithm string) []string {
	alg := strings.ToUpper(strings.TrimSpace(fastAlgorithm))
	if alg == "" {
		alg = "MD5"
	}
	return []string{"文件路径", "文件名称", "文件大小", "大小(Bytes)", alg + "校验值", "SHA-256哈希值", "状态"}
}

// Rows 按记录顺序生成导出行。
func Rows(records []domain.Record) []Row {
	out := make([]Row, 0, len(records))
	for _, r := range records {
		out = append(out, Row{
			Path:      r.Path,
			Name:      r.Name,
			HumanSize: HumanSize(r.Size),
			Bytes:     r.Size,
			Fast:      orPlaceholder(r.FastDigest),
			Secure:    orPlaceholder(r.SecureDigest),
			Status:    StatusLabel(r.Status),
		})
	}
	return out
}

// StatusLabel 对 done 显示“完成”，其他状态原样输出。
func StatusLabel(s domain.Status) string {
	if s == domain.StatusDone {
		return "完成"
	}
	return string(s)
}

// HumanSize 以二进制单位格式化字节数。
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}

// Filter 返回名称或路径包含 query（大小写不敏感）的记录；query 为空时原样返回。
func Filter(records []domain.Record, query string) []domain.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return records
	}
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Path), q) {
			out = append(out, r)
		}
	}
	return out
}

// WriteCSV 写出带 UTF-8 BOM 的 CSV（表格软件据此识别编码）。
func WriteCSV(w io.Writer, rr domain.RunReport) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers(rr.FastAlgorithm)); err != nil {
		return err
	}
	for _, row := range Rows(rr.Records) {
		rec := []string{
			row.Path,
			row.Name,
			row.HumanSize,
			strconv.FormatInt(row.Bytes, 10),
			row.Fast,
			row.Secure,
			row.Status,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON 写出完整 RunReport（缩进，末尾换行）。
func WriteJSON(w io.Writer, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// FileBase 返回某天的报告文件名（不含扩展名），形如 校验报告_2026-01-02。
func FileBase(t time.Time) string {
	return BaseName + "_" + t.Format(time.DateOnly)
}

// WriteFiles 按 formats 把报告写到 dir，返回写出的文件路径（顺序同 formats）。
// 同名文件已存在时追加序号，不覆盖。
func WriteFiles(dir string, formats []string, rr domain.RunReport, now time.Time) ([]string, error) {
	base := FileBase(now)
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		var buf bytes.Buffer
		var err error
		switch f {
		case "csv":
			err = WriteCSV(&buf, rr)
		case "json":
			err = WriteJSON(&buf, rr)
		case "html":
			err = WriteHTML(&buf, rr)
		default:
			err = fmt.Errorf("未知报告格式：%q", f)
		}
		if err != nil {
			return paths, err
		}
		name, err := fsx.WriteFileUnique(dir, base, "."+f, buf.Bytes())
		if err != nil {
			return paths, err
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}
