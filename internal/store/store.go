// Package store 持有一个批次内的全部记录，并提供按 ID 的整条替换更新。
//
// 读者拿到的都是值快照；写入只通过 Update（校验后整条替换）。
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/source"
)

var (
	// ErrNotFound 表示 ID 不在当前批次中（例如已被 Clear）。
	ErrNotFound = errors.New("store: record not found")
	// ErrStale 表示写入方持有的代号已过期（批次被 Clear 过）。
	ErrStale = errors.New("store: stale generation")
)

// InvalidUpdateError 表示一次替换会破坏记录不变量。
type InvalidUpdateError struct {
	ID   string
	From domain.Status
	To   domain.Status
}

func (e *InvalidUpdateError) Error() string {
	return fmt.Sprintf("非法记录更新：id=%s %s -> %s", e.ID, e.From, e.To)
}

type entry struct {
	rec domain.Record
	src source.File
}

// Store 是并发安全的记录仓库。零值不可用，请使用 New。
type Store struct {
	mu    sync.RWMutex
	gen   uint64
	order []string
	byID  map[string]*entry
}

func New() *Store {
	return &Store{byID: make(map[string]*entry)}
}

// Generation 返回当前批次代号；每次 Clear 后递增。
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Append 按顺序追加记录，返回实际接纳的 ID（重复 ID 被忽略）。
func (s *Store) Append(recs []domain.Record, srcs []source.File) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]string, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			continue
		}
		if _, ok := s.byID[r.ID]; ok {
			continue
		}
		var src source.File
		if i < len(srcs) {
			src = srcs[i]
		}
		s.byID[r.ID] = &entry{rec: r, src: src}
		s.order = append(s.order, r.ID)
		accepted = append(accepted, r.ID)
	}
	return accepted
}

// Get 返回记录快照。
func (s *Store) Get(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return domain.Record{}, false
	}
	return e.rec, true
}

// Source 返回记录的字节源；已释放或不存在时返回 false。
func (s *Store) Source(id string) (source.File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok || e.src == nil {
		return nil, false
	}
	return e.src, true
}

// Release 丢弃记录对字节源的引用（摘要完成或失败后调用）。
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		e.src = nil
	}
}

// Update 在代号 gen 下对记录 id 做整条替换：fn 收到当前快照，返回新快照。
//
// gen 过期返回 ErrStale，记录不存在返回 ErrNotFound；
// 新快照不满足不变量时返回 *InvalidUpdateError，原记录保持不变。
func (s *Store) Update(gen uint64, id string, fn func(domain.Record) domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return domain.Record{}, ErrStale
	}
	e, ok := s.byID[id]
	if !ok {
		return domain.Record{}, ErrNotFound
	}
	next := fn(e.rec)
	if !domain.Validate(e.rec, next) {
		return e.rec, &InvalidUpdateError{ID: id, From: e.rec.Status, To: next.Status}
	}
	e.rec = next
	return next, nil
}

// Snapshot 按插入顺序返回全部记录的拷贝。
func (s *Store) Snapshot() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].rec)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear 丢弃全部记录与字节源，并使旧代号失效。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.order = nil
	s.byID = make(map[string]*entry)
}
