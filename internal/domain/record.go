package domain

// Status 是单条记录的处理状态。
//
// 合法迁移只有 pending -> processing -> {done, error}；不存在回到 pending 的路径。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

const (
	// KindFile 表示直接输入的文件（含目录选择得到的文件）。
	KindFile = "file"
	// KindExtracted 表示从压缩包中展开的条目。
	KindExtracted = "extracted"
)

// Record 是流水线中的单个文件记录（只读快照）。
//
// 不变量：
// - ID 在一个批次内唯一，生命周期内不变
// - FastDigest/SecureDigest 非空 当且仅当 Status==done
// - Status==error 时两个摘要都保持为空
// - Progress 在 processing 期间单调不减，done 时固定为 100
//
// Record 是值类型：Store 用整条替换的方式更新，读者拿到的永远是某一时刻的完整快照。
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Kind string `json:"kind"`

	FastDigest   string `json:"fast_digest,omitempty"`
	SecureDigest string `json:"secure_digest,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// NewRecord 构造一条初始记录：pending、progress=0、摘要为空。
func NewRecord(id, name, path string, size int64, kind string) Record {
	return Record{
		ID:     id,
		Name:   name,
		Path:   path,
		Size:   size,
		Kind:   kind,
		Status: StatusPending,
	}
}

// HasDigests 报告两个摘要是否都已计算。
func (r Record) HasDigests() bool {
	return r.FastDigest != "" && r.SecureDigest != ""
}

// Terminal 报告记录是否已进入终态（done/error）。
func (r Record) Terminal() bool {
	return r.Status == StatusDone || r.Status == StatusError
}

// CanTransition 报告 from -> to 是否是合法的状态迁移。
// 同状态视为合法（processing 期间的进度更新不改变状态）。
func CanTransition(from, to Status) bool {
	if from == to {
		return from == StatusProcessing
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusDone || to == StatusError
	default:
		return false
	}
}

// Validate 检查一次整条替换是否保持记录不变量（由 Store 在提交前调用）。
func Validate(prev, next Record) bool {
	if prev.ID != next.ID || prev.Size != next.Size || prev.Path != next.Path || prev.Name != next.Name || prev.Kind != next.Kind {
		return false
	}
	if !CanTransition(prev.Status, next.Status) {
		return false
	}
	if next.Progress < 0 || next.Progress > 100 {
		return false
	}
	if next.Status == StatusProcessing && next.Progress < prev.Progress {
		return false
	}
	switch next.Status {
	case StatusDone:
		return next.HasDigests() && next.Progress == 100
	case StatusError:
		return next.FastDigest == "" && next.SecureDigest == ""
	default:
		return next.FastDigest == "" && next.SecureDigest == ""
	}
}
