package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/evihash/internal/digest"
)

const (
	// ErrCodeNotFound 表示 --config 指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示 CLI 与配置文件都没有给出任何输入路径。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultYield 是每条记录结束后的默认让出时长。
	DefaultYield = 50 * time.Millisecond
	// DefaultFormat 是未指定时的报告格式。
	DefaultFormat = "csv"
	// CacheDirName 是默认缓存目录（位于报告目录下）。
	CacheDirName = ".evihash"

	maxChunkSize = 1 << 30
)

// candidateNames 是 cwd 下按顺序探测的配置文件名。
var candidateNames = []string{"evihash.json", "evihash.yaml", "evihash.yml"}

// CLIArgs 是命令行给出的覆盖项，并保留“是否显式指定”的信息，
// 保证 --cache=false 这类写法能覆盖配置文件里的 true。
type CLIArgs struct {
	// ConfigPath 非空时必须存在；为空时在 cwd 下探测（可选）。
	ConfigPath string
	Paths      []string

	OutDir    string
	OutDirSet bool

	Formats    []string
	FormatsSet bool

	Fast    string
	FastSet bool

	ChunkSize    int
	ChunkSizeSet bool

	Yield    time.Duration
	YieldSet bool

	Cache    bool
	CacheSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 evihash.json（JSONC）/ evihash.yaml 的解析结构。
type FileConfig struct {
	Paths         []string     `json:"paths" yaml:"paths"`
	ExcludeDirs   []string     `json:"exclude_dirs" yaml:"exclude_dirs"`
	FastAlgorithm string       `json:"fast_algorithm" yaml:"fast_algorithm"`
	ChunkSize     int          `json:"chunk_size" yaml:"chunk_size"`
	YieldMS       *int         `json:"yield_ms" yaml:"yield_ms"`
	Report        ReportConfig `json:"report" yaml:"report"`
	Cache         CacheConfig  `json:"cache" yaml:"cache"`
	LogLevel      string       `json:"log_level" yaml:"log_level"`
}

type ReportConfig struct {
	Dir     string   `json:"dir" yaml:"dir"`
	Formats []string `json:"formats" yaml:"formats"`
}

type CacheConfig struct {
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

// EffectiveConfig 是合并并规范化后的最终配置（路径均为绝对路径）。
type EffectiveConfig struct {
	// ConfigFile 是实际读取的配置文件；没有时为空。
	ConfigFile string

	Paths       []string
	ExcludeDirs []string

	FastAlgorithm digest.Algorithm
	ChunkSize     int
	Yield         time.Duration

	ReportDir string
	Formats   []string

	CacheEnabled bool
	CacheDir     string

	LogLevel slog.Level
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：没有输入路径（命令行与配置文件 %q 的 paths 都为空）", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) --config 指定：必须存在
// 2) 否则依次探测 <cwd>/evihash.json、evihash.yaml、evihash.yml（可选）
//
// 覆盖优先级：CLI > 配置文件 > 内置默认。
// 相对路径：CLI 给出的相对 cwd；配置文件给出的相对配置文件所在目录。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath, fc, err := discover(cwdAbs, cli.ConfigPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return merge(cwdAbs, cfgPath, cli, fc)
}

func discover(cwdAbs, explicit string) (string, FileConfig, error) {
	if strings.TrimSpace(explicit) != "" {
		p := absCleanFrom(cwdAbs, explicit)
		fc, exists, err := readFileConfig(p)
		if err != nil {
			return p, FileConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if !exists {
			return p, FileConfig{}, &Error{Code: ErrCodeNotFound, Path: p, Err: os.ErrNotExist}
		}
		return p, fc, nil
	}
	for _, name := range candidateNames {
		p := filepath.Join(cwdAbs, name)
		fc, exists, err := readFileConfig(p)
		if err != nil {
			return p, FileConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if exists {
			return p, fc, nil
		}
	}
	return "", FileConfig{}, nil
}

func merge(cwdAbs, cfgPath string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	cfgBase := cwdAbs
	if cfgPath != "" {
		cfgBase = filepath.Dir(cfgPath)
	}

	// paths：CLI > config
	var paths []string
	if len(cli.Paths) > 0 {
		paths = absAll(cwdAbs, cli.Paths)
	} else {
		paths = absAll(cfgBase, fc.Paths)
	}
	if len(paths) == 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	fastName := fc.FastAlgorithm
	if cli.FastSet {
		fastName = cli.Fast
	}
	fast := digest.AlgMD5
	if strings.TrimSpace(fastName) != "" {
		a, err := digest.ParseAlgorithm(fastName)
		if err != nil {
			return invalid(err)
		}
		fast = a
	}

	chunk := fc.ChunkSize
	if cli.ChunkSizeSet {
		chunk = cli.ChunkSize
	}
	if chunk == 0 {
		chunk = digest.DefaultChunkSize
	}
	if chunk < 0 || chunk > maxChunkSize {
		return invalid(fmt.Errorf("chunk_size 超出范围 [1, %d]：%d", maxChunkSize, chunk))
	}

	yield := DefaultYield
	if fc.YieldMS != nil {
		yield = time.Duration(*fc.YieldMS) * time.Millisecond
	}
	if cli.YieldSet {
		yield = cli.Yield
	}
	if yield < 0 {
		return invalid(fmt.Errorf("yield 不能为负数：%v", yield))
	}

	reportDir := cwdAbs
	if strings.TrimSpace(fc.Report.Dir) != "" {
		reportDir = absCleanFrom(cfgBase, fc.Report.Dir)
	}
	if cli.OutDirSet && strings.TrimSpace(cli.OutDir) != "" {
		reportDir = absCleanFrom(cwdAbs, cli.OutDir)
	}

	rawFormats := fc.Report.Formats
	if cli.FormatsSet {
		rawFormats = cli.Formats
	}
	formats, err := normalizeFormats(rawFormats)
	if err != nil {
		return invalid(err)
	}

	cacheEnabled := false
	if fc.Cache.Enabled != nil {
		cacheEnabled = *fc.Cache.Enabled
	}
	if cli.CacheSet {
		cacheEnabled = cli.Cache
	}
	cacheDir := filepath.Join(reportDir, CacheDirName)
	if strings.TrimSpace(fc.Cache.Dir) != "" {
		cacheDir = absCleanFrom(cfgBase, fc.Cache.Dir)
	}

	levelName := fc.LogLevel
	if cli.LogLevelSet {
		levelName = cli.LogLevel
	}
	level := slog.LevelInfo
	if strings.TrimSpace(levelName) != "" {
		if err := level.UnmarshalText([]byte(strings.TrimSpace(levelName))); err != nil {
			return invalid(fmt.Errorf("log_level 无效：%q", levelName))
		}
	}

	excludes := make([]string, 0, len(fc.ExcludeDirs))
	for _, x := range fc.ExcludeDirs {
		if x = strings.TrimSpace(x); x != "" {
			excludes = append(excludes, x)
		}
	}

	return EffectiveConfig{
		ConfigFile:    cfgPath,
		Paths:         paths,
		ExcludeDirs:   excludes,
		FastAlgorithm: fast,
		ChunkSize:     chunk,
		Yield:         yield,
		ReportDir:     reportDir,
		Formats:       formats,
		CacheEnabled:  cacheEnabled,
		CacheDir:      cacheDir,
		LogLevel:      level,
	}, nil
}

// normalizeFormats 小写、去重并校验；空输入返回默认 [csv]。
func normalizeFormats(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case "csv", "json", "html":
		default:
			return nil, fmt.Errorf("report.formats 只能是 csv/json/html，实际包含 %q", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		out = append(out, DefaultFormat)
	}
	return out, nil
}

func absAll(base string, ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if a := absCleanFrom(base, p); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute；空串保持为空。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 按扩展名解析配置文件（.yaml/.yml 用 YAML，其余按 JSONC）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(jsonc.ToJSON(b), &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
