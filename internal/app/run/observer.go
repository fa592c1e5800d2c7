package run

import (
	"time"

	"github.com/John-Robertt/evihash/internal/config"
	"github.com/John-Robertt/evihash/internal/domain"
)

// Observer 用于把“运行进度/阶段/记录结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件来自入库 goroutine 与调度 goroutine。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某条记录进入终态时调用；total 是当时已入库的记录数。
	OnItemDone(idx, total int, rec domain.Record, dur time.Duration)
	// OnProgress 在当前记录的进度前进时调用。
	OnProgress(rec domain.Record)
}
