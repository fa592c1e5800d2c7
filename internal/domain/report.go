package domain

import (
	"strings"
	"time"
)

const (
	ErrCodeIOFailed      = "io_failed"
	ErrCodeConfigInvalid = "config_invalid"
	ErrCodeCanceled      = "canceled"
)

// RunReport 是对外稳定输出（stdout JSON / 报告文件）的结构。
type RunReport struct {
	Roots []string `json:"roots"`

	FastAlgorithm   string `json:"fast_algorithm"`
	SecureAlgorithm string `json:"secure_algorithm"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary Stats `json:"summary"`
	// Records 保持入库顺序（不排序）：导出与界面都按用户添加文件的顺序展示。
	Records []Record `json:"records"`

	// ReportFiles 是本次写出的报告文件（由 CLI 填写）。
	ReportFiles []string `json:"report_files,omitempty"`

	// Error 仅在运行级失败（配置/扫描）时非空；单条记录失败写在 Record.Error。
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Stats 是由记录序列推导出的聚合统计。
type Stats struct {
	TotalFiles     int            `json:"total_files"`
	TotalSize      int64          `json:"total_size"`
	ProcessedCount int            `json:"processed_count"`
	FailedCount    int            `json:"failed_count"`
	Extensions     map[string]int `json:"extensions"`
}

// Finalize 统一时间为 UTC，并由 Records 计算 Summary。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Roots == nil {
		r.Roots = []string{}
	}
	if r.Records == nil {
		r.Records = []Record{}
	}
	r.Summary = Summarize(r.Records)
}

// Summarize 计算总数、总字节、已完成数与扩展名直方图。
func Summarize(records []Record) Stats {
	s := Stats{
		TotalFiles: len(records),
		Extensions: make(map[string]int, 16),
	}
	for _, r := range records {
		s.TotalSize += r.Size
		switch r.Status {
		case StatusDone:
			s.ProcessedCount++
		case StatusError:
			s.FailedCount++
		}
		s.Extensions[Extension(r.Name)]++
	}
	return s
}

// Extension 取最后一个 '.' 之后的部分；没有 '.' 时取整个名字；结果为空时记为 "unknown"。
func Extension(name string) string {
	ext := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i+1:]
	}
	if ext == "" {
		return "unknown"
	}
	return ext
}
