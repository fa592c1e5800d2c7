package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/John-Robertt/evihash/internal/app/run"
	"github.com/John-Robertt/evihash/internal/config"
	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/report"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	switch args[0] {
	case "run":
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		code := runCmd(ctx, args[1:], cwd, os.Stdout, os.Stderr)
		stop()
		if code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

// runCmd 执行 run 子命令并返回进程退出码：
// 0 全部记录完成；1 存在失败记录或运行级错误；2 参数错误。
func runCmd(ctx context.Context, args []string, cwd string, stdout, stderr io.Writer) int {
	cli, help, err := parseRunArgs(args)
	if help {
		printRunUsage(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
		printRunUsage(stderr)
		return 2
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		cwdAbs, _ := filepath.Abs(cwd)
		emitReport(stdout, stderr, reportForConfigError(cwdAbs, cli, err))
		return 1
	}

	log := newLogger(stderr, eff.LogLevel)
	if eff.ConfigFile != "" {
		log.Debug("已加载配置文件", "path", eff.ConfigFile)
	}

	progressW, interactive := pickProgressWriter(stdout, stderr)
	var (
		obs run.Observer
		ui  *progressUI
	)
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, log, obs)
	if ui != nil {
		ui.stop()
	}

	// 扫描/配置失败时没有可导出的记录；中断时仍导出已有结果。
	if rr.ErrorCode == "" || rr.ErrorCode == domain.ErrCodeCanceled {
		paths, err := report.WriteFiles(eff.ReportDir, eff.Formats, rr, time.Now())
		rr.ReportFiles = paths
		if err != nil {
			log.Error("写入报告失败", "dir", eff.ReportDir, "error", err)
			if rr.ErrorCode == "" {
				rr.ErrorCode = domain.ErrCodeIOFailed
				rr.ErrorMsg = fmt.Sprintf("写入报告失败：%v", err)
			}
		}
	}

	emitReport(stdout, stderr, rr)
	if interactive {
		emitLocations(progressW, rr)
	}
	if rr.ErrorCode == "" && rr.Summary.FailedCount == 0 {
		return 0
	}
	return 1
}

func newRunFlags(cli *config.CLIArgs, help *bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.StringVarP(&cli.ConfigPath, "config", "c", "", "配置文件路径（默认探测 ./evihash.json、./evihash.yaml）")
	fs.StringVarP(&cli.OutDir, "out", "o", "", "报告输出目录（默认当前目录）")
	fs.StringSliceVarP(&cli.Formats, "format", "f", nil, "报告格式：csv|json|html，可重复或逗号分隔（默认 csv）")
	fs.StringVar(&cli.Fast, "fast", "", "快速摘要算法：md5|blake3（默认 md5）")
	fs.IntVar(&cli.ChunkSize, "chunk-size", 0, "快速摘要分块字节数（默认 2097152）")
	fs.DurationVar(&cli.Yield, "yield", 0, "每个文件之间的让出时长（默认 50ms）")
	fs.BoolVar(&cli.Cache, "cache", false, "启用摘要缓存；--cache=false 可覆盖配置文件")
	fs.StringVar(&cli.LogLevel, "log-level", "", "日志级别：debug|info|warn|error（默认 info）")
	fs.BoolVarP(help, "help", "h", false, "显示帮助")
	return fs
}

// parseRunArgs 解析 run 的参数；位置参数都是输入路径（文件或目录）。
func parseRunArgs(args []string) (config.CLIArgs, bool, error) {
	var (
		cli  config.CLIArgs
		help bool
	)
	fs := newRunFlags(&cli, &help)
	if err := fs.Parse(args); err != nil {
		return config.CLIArgs{}, false, err
	}
	if help {
		return cli, true, nil
	}

	cli.Paths = fs.Args()
	cli.OutDirSet = fs.Changed("out")
	cli.FormatsSet = fs.Changed("format")
	cli.FastSet = fs.Changed("fast")
	cli.ChunkSizeSet = fs.Changed("chunk-size")
	cli.YieldSet = fs.Changed("yield")
	cli.CacheSet = fs.Changed("cache")
	cli.LogLevelSet = fs.Changed("log-level")

	if cli.OutDirSet && strings.TrimSpace(cli.OutDir) == "" {
		return config.CLIArgs{}, false, errors.New("--out 不能为空")
	}
	if cli.ChunkSizeSet && cli.ChunkSize <= 0 {
		return config.CLIArgs{}, false, fmt.Errorf("--chunk-size 必须为正数，实际是 %d", cli.ChunkSize)
	}
	if cli.YieldSet && cli.Yield < 0 {
		return config.CLIArgs{}, false, fmt.Errorf("--yield 不能为负数，实际是 %s", cli.Yield)
	}
	return cli, false, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  evihash run [path...] [flags]

命令：
  run    扫描文件/目录（zip 自动展开），计算快速摘要与 SHA-256，并导出校验报告

使用 "evihash run --help" 查看详细说明。
`)
}

func printRunUsage(w io.Writer) {
	var (
		cli  config.CLIArgs
		help bool
	)
	fmt.Fprint(w, `用法：
  evihash run [path...] [flags]

未给出 path 时使用配置文件中的 paths。

参数：
`)
	fmt.Fprint(w, newRunFlags(&cli, &help).FlagUsages())
}

func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	s := rr.Summary
	summary := fmt.Sprintf("完成：total=%d done=%d failed=%d size=%s\n",
		s.TotalFiles, s.ProcessedCount, s.FailedCount, report.HumanSize(s.TotalSize),
	)

	if isTerminal(stdout) {
		fmt.Fprint(stdout, summary)
		if rr.ErrorCode != "" {
			fmt.Fprintf(stderr, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
		}
		for _, r := range rr.Records {
			if r.Status == domain.StatusError {
				fmt.Fprintf(stderr, "%s: %s\n", r.Path, r.Error)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(stdout).Encode(rr)
	fmt.Fprint(stderr, summary)
}

func reportForConfigError(cwdAbs string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Roots:      append([]string(nil), cli.Paths...),
		StartedAt:  now,
		FinishedAt: now,
		ErrorCode:  config.Code(err),
		ErrorMsg:   err.Error(),
	}
	if rr.ErrorCode == "" {
		rr.ErrorCode = domain.ErrCodeConfigInvalid
	}
	if len(rr.Roots) == 0 {
		rr.Roots = []string{cwdAbs}
	}
	rr.Finalize()
	return rr
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTerminal(stderr) {
		return stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTerminal(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, rr domain.RunReport) {
	if w == nil {
		return
	}
	for _, p := range rr.ReportFiles {
		fmt.Fprintf(w, "report: %s\n", p)
	}
}

// newLogger 在 stderr 是终端时用文本格式，否则用 JSON（便于脚本/CI 收集）。
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isTerminal(w) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
