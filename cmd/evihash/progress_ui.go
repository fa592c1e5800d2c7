package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/John-Robertt/evihash/internal/app/run"
	"github.com/John-Robertt/evihash/internal/config"
	"github.com/John-Robertt/evihash/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：大文件长时间计算时也会定期输出一行当前进度
type progressUI struct {
	w io.Writer

	okStyle   lipgloss.Style
	failStyle lipgloss.Style
	dimStyle  lipgloss.Style

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	ok    int
	fail  int

	activePath     string
	activeProgress int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	r := lipgloss.NewRenderer(w)
	return &progressUI{
		w:                  w,
		okStyle:            r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failStyle:          r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dimStyle:           r.NewStyle().Faint(true),
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] evihash run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  paths: %s\n", formatStringListJSON(eff.Paths))
	fmt.Fprintf(p.w, "  fast: %s (chunk %s) / secure: sha256\n", eff.FastAlgorithm, humanize.IBytes(uint64(max(eff.ChunkSize, 0))))
	fmt.Fprintf(p.w, "  yield: %s\n", eff.Yield)
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 .evihash/\n", formatStringListJSON(eff.ExcludeDirs))
	fmt.Fprintf(p.w, "  cache: %s\n", onOff(eff.CacheEnabled))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  report: %s %s\n", eff.ReportDir, formatStringListJSON(eff.Formats))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: roots=%d files=%d (%s)\n",
			intField(fields, "roots"), intField(fields, "files"), formatShortDuration(dur),
		)
		// 摘要计算随入库同步开始，ticker 从这里启动。
		if intField(fields, "files") > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "ingest":
		p.total = intField(fields, "records")
		fmt.Fprintf(p.w, "入库: inputs=%d records=%d (%s)\n",
			intField(fields, "inputs"), p.total, formatShortDuration(dur),
		)
	case "hash":
		fmt.Fprintf(p.w, "摘要: done=%d failed=%d (%s)\n",
			intField(fields, "done"), intField(fields, "failed"), formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, rec domain.Record, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	if total > p.total {
		p.total = total
	}
	p.activePath = ""
	p.activeProgress = 0

	switch rec.Status {
	case domain.StatusDone:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s %s (%s)\n",
			idx, p.total, p.okStyle.Render("OK"), rec.Path, humanize.IBytes(uint64(max(rec.Size, 0))),
			p.dimStyle.Render(shortDigest(rec.SecureDigest)), formatShortDuration(dur),
		)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s %s: %s (%s)\n",
			idx, p.total, p.failStyle.Render("FAIL"), rec.Path, truncate(rec.Error, 160), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()
}

// OnProgress 只记录当前进度，由 keepalive 决定何时打印。
func (p *progressUI) OnProgress(rec domain.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activePath = rec.Path
	p.activeProgress = rec.Progress
}

func (p *progressUI) keepaliveLineLocked() string {
	line := fmt.Sprintf("进度: done=%d/%d ok=%d fail=%d elapsed=%s",
		p.done, p.total, p.ok, p.fail, formatElapsed(time.Since(p.startedAt)),
	)
	if p.activePath != "" {
		line += fmt.Sprintf(" 当前=%s %d%%", truncate(p.activePath, 80), p.activeProgress)
	}
	return line
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stopCh := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.keepaliveLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

// stop 停止 keepalive，避免在结束打印后又冒出进度行。
func (p *progressUI) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func shortDigest(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "…"
}

// truncate 按字符（而非字节）截断，避免切坏中文路径。
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return s
	}
	if limit <= 3 {
		return string(rs[:limit])
	}
	return string(rs[:limit-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
