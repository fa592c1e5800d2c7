// Package session 把规范化、记录仓库与调度器组合成对外的一组操作：
// AddFiles / Records / Clear / Wait。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/ingest"
	"github.com/John-Robertt/evihash/internal/queue"
	"github.com/John-Robertt/evihash/internal/source"
	"github.com/John-Robertt/evihash/internal/store"
)

// Options 是 New 的参数；Hasher 必填。
type Options struct {
	Hasher queue.Hasher
	// Yield 是每条记录结束后的让出时长，见 queue.Options。
	Yield    time.Duration
	NewID    func() string
	Observer queue.Observer
	Logger   *slog.Logger
	// OnAdded 在每条新记录入库后、入队前调用（用于界面即时显示 pending 行）。
	// 回调期间持有会话锁，不能回调 Session 的方法。
	OnAdded func(domain.Record)
}

// Session 是一个批次的生命周期容器。并发安全。
type Session struct {
	store *store.Store
	sched *queue.Scheduler
	norm  ingest.Normalizer

	onAdded func(domain.Record)

	// mu 让“入库 + 入队”与 Clear 互斥：Clear 不会落在两步之间。
	mu sync.Mutex
}

func New(opts Options) *Session {
	st := store.New()
	return &Session{
		store: st,
		sched: queue.New(st, opts.Hasher, queue.Options{
			Yield:    opts.Yield,
			Observer: opts.Observer,
			Logger:   opts.Logger,
		}),
		norm:    ingest.Normalizer{NewID: opts.NewID, Logger: opts.Logger},
		onAdded: opts.OnAdded,
	}
}

// AddFiles 规范化输入、追加到仓库并入队；返回新接纳的记录 ID（已知 ID 被忽略）。
//
// 记录逐条入库：每个输入文件规范化完成后立即可见，不等整批结束。
func (s *Session) AddFiles(ctx context.Context, files []source.File) ([]string, error) {
	var added []string
	err := s.norm.Normalize(ctx, files, func(it ingest.Item) {
		s.mu.Lock()
		defer s.mu.Unlock()

		ids := s.store.Append([]domain.Record{it.Record}, []source.File{it.Source})
		if len(ids) == 0 {
			return
		}
		added = append(added, ids...)
		if s.onAdded != nil {
			s.onAdded(it.Record)
		}
		s.sched.Enqueue(ids...)
	})
	return added, err
}

// Records 按入库顺序返回全部记录快照。
func (s *Session) Records() []domain.Record {
	return s.store.Snapshot()
}

// Get 返回单条记录快照。
func (s *Session) Get(id string) (domain.Record, bool) {
	return s.store.Get(id)
}

// Clear 清空记录与队列；进行中的计算结果将被丢弃。
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Clear()
}

// State 返回调度器状态。
func (s *Session) State() queue.State {
	return s.sched.State()
}

// Wait 阻塞到队列排空或 ctx 结束。
func (s *Session) Wait(ctx context.Context) error {
	return s.sched.Wait(ctx)
}

// Close 停止调度器并等待后台循环退出。
func (s *Session) Close() {
	s.sched.Close()
}
