// Package queue 驱动记录的摘要计算：FIFO、并发度恒为 1、每条之间让出一次调度。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/John-Robertt/evihash/internal/digest"
	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/source"
	"github.com/John-Robertt/evihash/internal/store"
)

// Hasher 计算单个文件的两个摘要（digest.Engine 与缓存包装都实现它）。
type Hasher interface {
	Compute(ctx context.Context, f source.File, onProgress func(int)) (digest.Result, error)
}

// Observer 接收每一次已提交的记录替换（processing、进度、终态）。
//
// 回调在调度 goroutine 上同步执行，实现应尽快返回。
type Observer interface {
	OnRecord(rec domain.Record)
}

// ObserverFunc 把普通函数适配为 Observer。
type ObserverFunc func(domain.Record)

func (f ObserverFunc) OnRecord(rec domain.Record) { f(rec) }

// State 是调度器的全局状态。
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// InvalidQueueEntryError 表示队首 ID 没有对应的存活记录，或记录不处于 pending。
// 只用于诊断日志，不会返回给调用方。
type InvalidQueueEntryError struct {
	ID      string
	Missing bool
	Status  domain.Status
}

func (e *InvalidQueueEntryError) Error() string {
	if e.Missing {
		return fmt.Sprintf("队列条目无对应记录：id=%s", e.ID)
	}
	return fmt.Sprintf("队列条目状态不是 pending：id=%s status=%s", e.ID, e.Status)
}

// ErrNoSource 表示 pending 记录的字节源已不可用。
var ErrNoSource = errors.New("queue: record has no byte source")

// Options 是 New 的可选参数。
type Options struct {
	// Yield 是每条记录结束后的让出时长；<=0 时只做 runtime.Gosched。
	Yield    time.Duration
	Observer Observer
	Logger   *slog.Logger
}

// Scheduler 持有待处理 ID 的 FIFO，并独占记录状态的写入。
type Scheduler struct {
	store  *store.Store
	hasher Hasher
	obs    Observer
	log    *slog.Logger
	yield  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []string
	epoch    uint64
	draining bool
	idle     chan struct{} // draining 期间打开，回到 idle 时关闭
}

func New(st *store.Store, h Hasher, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:  st,
		hasher: h,
		obs:    opts.Observer,
		log:    log,
		yield:  opts.Yield,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue 把 ids 追加到队尾；空闲时启动一个新的 drain 循环。
func (s *Scheduler) Enqueue(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, ids...)
	if s.draining || s.ctx.Err() != nil {
		return
	}
	s.draining = true
	s.idle = make(chan struct{})
	s.wg.Add(1)
	go s.drain(s.epoch)
}

// Clear 清空队列与记录仓库，并立即回到 idle。
//
// 已交给 Hasher 的计算不会被打断；仓库代号随之递增，它完成后的写入会被丢弃。
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Clear()
	s.resetLocked()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return StateDraining
	}
	return StateIdle
}

// Pending 返回仍在队列中的 ID 数（含正在处理的队首）。
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Wait 阻塞到调度器回到 idle 或 ctx 结束。
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 取消进行中的计算并等待所有 drain 循环退出。Close 之后 Enqueue 不再生效。
//
// 与 Clear 不同，Close 保留仓库中的记录，调用方之后仍可读取快照。
func (s *Scheduler) Close() {
	s.cancel()
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) resetLocked() {
	s.epoch++
	s.pending = nil
	s.setIdleLocked()
}

func (s *Scheduler) setIdleLocked() {
	if !s.draining {
		return
	}
	s.draining = false
	close(s.idle)
}

func (s *Scheduler) drain(epoch uint64) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.setIdleLocked()
			s.mu.Unlock()
			return
		}
		id := s.pending[0]
		s.mu.Unlock()

		worked := s.process(id)

		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if worked {
			s.pause()
		}
	}
}

// process 处理一个队首 ID；返回 false 表示这是无效条目（调用方不让出，直接继续）。
func (s *Scheduler) process(id string) bool {
	gen := s.store.Generation()

	rec, ok := s.store.Get(id)
	if !ok || rec.Status != domain.StatusPending {
		s.log.Debug("丢弃无效队列条目", "error", &InvalidQueueEntryError{ID: id, Missing: !ok, Status: rec.Status})
		return false
	}
	if _, err := s.commit(gen, id, func(r domain.Record) domain.Record {
		r.Status = domain.StatusProcessing
		return r
	}); err != nil {
		s.log.Debug("认领记录失败", "id", id, "error", err)
		return false
	}
	defer s.store.Release(id)

	src, ok := s.store.Source(id)
	if !ok {
		s.fail(gen, rec, ErrNoSource)
		return true
	}

	last := 0
	res, err := s.hasher.Compute(s.ctx, src, func(p int) {
		if p <= last {
			return
		}
		last = p
		_, _ = s.commit(gen, id, func(r domain.Record) domain.Record {
			r.Progress = p
			return r
		})
	})
	if err != nil {
		s.fail(gen, rec, err)
		return true
	}

	if _, err := s.commit(gen, id, func(r domain.Record) domain.Record {
		r.Status = domain.StatusDone
		r.Progress = 100
		r.FastDigest = res.Fast
		r.SecureDigest = res.Secure
		return r
	}); err != nil && !errors.Is(err, store.ErrStale) && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("提交摘要结果失败", "id", id, "path", rec.Path, "error", err)
	}
	return true
}

func (s *Scheduler) fail(gen uint64, rec domain.Record, cause error) {
	s.log.Warn("摘要计算失败", "id", rec.ID, "path", rec.Path, "error", cause)
	_, _ = s.commit(gen, rec.ID, func(r domain.Record) domain.Record {
		r.Status = domain.StatusError
		r.Error = cause.Error()
		r.FastDigest = ""
		r.SecureDigest = ""
		return r
	})
}

func (s *Scheduler) commit(gen uint64, id string, fn func(domain.Record) domain.Record) (domain.Record, error) {
	rec, err := s.store.Update(gen, id, fn)
	if err != nil {
		return rec, err
	}
	if s.obs != nil {
		s.obs.OnRecord(rec)
	}
	return rec, nil
}

func (s *Scheduler) pause() {
	if s.yield <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(s.yield)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
	}
}
