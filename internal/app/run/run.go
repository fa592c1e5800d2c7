// Package run 串起一次完整运行：扫描 → 入库与摘要计算 → 汇总为 RunReport。
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/John-Robertt/evihash/internal/app/session"
	"github.com/John-Robertt/evihash/internal/config"
	"github.com/John-Robertt/evihash/internal/digest"
	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/infra/cache"
	"github.com/John-Robertt/evihash/internal/queue"
	"github.com/John-Robertt/evihash/internal/scan"
)

// Execute 执行一次 run，并返回对外稳定的 RunReport。
// 单条记录失败只体现在该记录的 error 状态上，不影响其他记录。
func Execute(ctx context.Context, eff config.EffectiveConfig, log *slog.Logger) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, log, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, log *slog.Logger, obs Observer) domain.RunReport {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if obs != nil {
		obs.OnStart(eff)
	}

	engine := digest.Engine{Fast: eff.FastAlgorithm, ChunkSize: eff.ChunkSize}
	rr := domain.RunReport{
		Roots:           append([]string(nil), eff.Paths...),
		FastAlgorithm:   string(engine.FastAlgorithm()),
		SecureAlgorithm: digest.SecureAlgorithm,
		StartedAt:       time.Now().UTC(),
		Records:         make([]domain.Record, 0, 128),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.ErrorCode = code
		rr.ErrorMsg = msg
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	scanStarted := time.Now()
	files, err := scan.Collect(ctx, eff.Paths, eff.ExcludeDirs)
	if err != nil {
		if ctx.Err() != nil {
			return fail(domain.ErrCodeCanceled, fmt.Sprintf("运行被中断：%v", ctx.Err()))
		}
		return fail(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err))
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"roots": len(eff.Paths),
			"files": len(files),
		}, time.Since(scanStarted))
	}

	var hasher queue.Hasher = engine
	var digestCache *cache.Store
	if eff.CacheEnabled {
		c, err := cache.Open(eff.CacheDir, false)
		if err != nil {
			// 缓存损坏不影响正确性：按空缓存继续，结束时覆盖写回。
			log.Warn("摘要缓存不可用，按空缓存继续", "path", c.Path(), "error", err)
		}
		digestCache = c
		hasher = cache.Hasher{Inner: engine, Algorithm: engine.FastAlgorithm(), Store: c}
	}

	tr := &tracker{obs: obs}
	sess := session.New(session.Options{
		Hasher:   hasher,
		Yield:    eff.Yield,
		Observer: tr,
		Logger:   log,
		OnAdded:  func(domain.Record) { tr.total.Add(1) },
	})
	defer sess.Close()

	ingestStarted := time.Now()
	ids, err := sess.AddFiles(ctx, files)
	if obs != nil {
		obs.OnPhaseDone("ingest", map[string]any{
			"inputs":  len(files),
			"records": len(ids),
		}, time.Since(ingestStarted))
	}

	var runErr error
	if err != nil {
		runErr = err
	} else {
		runErr = sess.Wait(ctx)
	}

	if obs != nil {
		done, failed := tr.counts()
		obs.OnPhaseDone("hash", map[string]any{
			"done":   done,
			"failed": failed,
		}, time.Since(ingestStarted))
	}

	if digestCache != nil {
		if err := digestCache.Save(); err != nil {
			log.Warn("写入摘要缓存失败", "path", digestCache.Path(), "error", err)
		}
	}

	if runErr != nil {
		// 取消时先停下调度器，再取快照，保证记录不再变化。
		sess.Close()
		rr.Records = sess.Records()
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return fail(domain.ErrCodeCanceled, fmt.Sprintf("运行被中断：%v", runErr))
		}
		return fail(domain.ErrCodeIOFailed, runErr.Error())
	}

	rr.Records = sess.Records()
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// tracker 把调度器的记录事件翻译成 Observer 的条目事件。
type tracker struct {
	obs   Observer
	total atomic.Int64

	mu      sync.Mutex
	started map[string]time.Time
	done    int
	failed  int
}

func (t *tracker) OnRecord(rec domain.Record) {
	t.mu.Lock()
	if t.started == nil {
		t.started = make(map[string]time.Time)
	}
	var (
		idx int
		dur time.Duration
	)
	switch rec.Status {
	case domain.StatusProcessing:
		if _, ok := t.started[rec.ID]; !ok {
			t.started[rec.ID] = time.Now()
		}
	case domain.StatusDone, domain.StatusError:
		if rec.Status == domain.StatusDone {
			t.done++
		} else {
			t.failed++
		}
		idx = t.done + t.failed
		if st, ok := t.started[rec.ID]; ok {
			dur = time.Since(st)
			delete(t.started, rec.ID)
		}
	}
	t.mu.Unlock()

	if t.obs == nil {
		return
	}
	switch {
	case rec.Terminal():
		t.obs.OnItemDone(idx, int(t.total.Load()), rec, dur)
	case rec.Status == domain.StatusProcessing:
		t.obs.OnProgress(rec)
	}
}

func (t *tracker) counts() (done, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.failed
}
