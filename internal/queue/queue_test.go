package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/evihash/internal/digest"
	"github.com/John-Robertt/evihash/internal/domain"
	"github.com/John-Robertt/evihash/internal/queue"
	"github.com/John-Robertt/evihash/internal/source"
	"github.com/John-Robertt/evihash/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Record
}

func (r *recorder) OnRecord(rec domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rec)
}

func (r *recorder) terminalOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Terminal() {
			out = append(out, e.ID)
		}
	}
	return out
}

func (r *recorder) progressOf(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.ID == id && e.Status == domain.StatusProcessing {
			out = append(out, e.Progress)
		}
	}
	return out
}

// failHasher 对指定文件名返回 IO 错误，其余委托给真实引擎。
type failHasher struct {
	engine digest.Engine
	bad    string

	mu    sync.Mutex
	calls map[string]int
}

func (h *failHasher) Compute(ctx context.Context, f source.File, onProgress func(int)) (digest.Result, error) {
	h.mu.Lock()
	if h.calls == nil {
		h.calls = map[string]int{}
	}
	h.calls[f.Name()]++
	h.mu.Unlock()

	if f.Name() == h.bad {
		onProgress(40)
		return digest.Result{}, &digest.IOError{Name: f.Name(), Phase: "fast", Err: errors.New("磁盘读取失败")}
	}
	return h.engine.Compute(ctx, f, onProgress)
}

func (h *failHasher) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

// blockHasher 在 release 关闭前一直阻塞（不响应 ctx，模拟不可抢占的计算）。
type blockHasher struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockHasher) Compute(_ context.Context, _ source.File, _ func(int)) (digest.Result, error) {
	close(h.started)
	<-h.release
	return digest.Result{Fast: "f", Secure: "s"}, nil
}

func add(st *store.Store, files ...*source.Memory) []string {
	recs := make([]domain.Record, 0, len(files))
	srcs := make([]source.File, 0, len(files))
	for _, f := range files {
		recs = append(recs, domain.NewRecord(f.FileName, f.FileName, f.FileName, f.Size(), domain.KindFile))
		srcs = append(srcs, f)
	}
	return st.Append(recs, srcs)
}

func waitIdle(t *testing.T, s *queue.Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestScheduler_ProcessesInFIFOOrder(t *testing.T) {
	t.Parallel()

	st := store.New()
	rec := &recorder{}
	s := queue.New(st, digest.Engine{ChunkSize: 4}, queue.Options{Observer: rec})
	defer s.Close()

	ids := add(st,
		&source.Memory{FileName: "a", Data: []byte("aaaaaaaaaa")},
		&source.Memory{FileName: "b", Data: []byte("b")},
		&source.Memory{FileName: "c"},
	)
	s.Enqueue(ids...)
	waitIdle(t, s)

	assert.Equal(t, []string{"a", "b", "c"}, rec.terminalOrder())
	for _, r := range st.Snapshot() {
		assert.Equal(t, domain.StatusDone, r.Status, r.ID)
		assert.Equal(t, 100, r.Progress)
		assert.True(t, r.HasDigests())
		_, ok := st.Source(r.ID)
		assert.False(t, ok, "完成后应释放字节源")
	}
	assert.Equal(t, queue.StateIdle, s.State())
	assert.Zero(t, s.Pending())
}

func TestScheduler_AtMostOneProcessing(t *testing.T) {
	t.Parallel()

	st := store.New()
	var maxSeen int
	var mu sync.Mutex
	obs := queue.ObserverFunc(func(domain.Record) {
		n := 0
		for _, r := range st.Snapshot() {
			if r.Status == domain.StatusProcessing {
				n++
			}
		}
		mu.Lock()
		maxSeen = max(maxSeen, n)
		mu.Unlock()
	})
	s := queue.New(st, digest.Engine{ChunkSize: 2}, queue.Options{Observer: obs})
	defer s.Close()

	var files []*source.Memory
	for _, name := range []string{"1", "2", "3", "4", "5"} {
		files = append(files, &source.Memory{FileName: name, Data: []byte("0123456789")})
	}
	s.Enqueue(add(st, files...)...)
	waitIdle(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen)
}

func TestScheduler_ProgressStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	st := store.New()
	rec := &recorder{}
	s := queue.New(st, digest.Engine{ChunkSize: 3}, queue.Options{Observer: rec})
	defer s.Close()

	s.Enqueue(add(st, &source.Memory{FileName: "p", Data: []byte("0123456789")})...)
	waitIdle(t, s)

	// processing 认领（0）之后依次为 25/50/75/100。
	assert.Equal(t, []int{0, 25, 50, 75, 100}, rec.progressOf("p"))
	got, _ := st.Get("p")
	assert.Equal(t, domain.StatusDone, got.Status)
}

func TestScheduler_FailureIsIsolated(t *testing.T) {
	t.Parallel()

	st := store.New()
	h := &failHasher{bad: "bad"}
	s := queue.New(st, h, queue.Options{})
	defer s.Close()

	s.Enqueue(add(st,
		&source.Memory{FileName: "bad", Data: []byte("x")},
		&source.Memory{FileName: "good", Data: []byte("y")},
	)...)
	waitIdle(t, s)

	bad, _ := st.Get("bad")
	assert.Equal(t, domain.StatusError, bad.Status)
	assert.Empty(t, bad.FastDigest)
	assert.Empty(t, bad.SecureDigest)
	assert.Contains(t, bad.Error, "磁盘读取失败")
	assert.Equal(t, 40, bad.Progress)

	good, _ := st.Get("good")
	assert.Equal(t, domain.StatusDone, good.Status)
	assert.True(t, good.HasDigests())
}

func TestScheduler_SkipsInvalidEntries(t *testing.T) {
	t.Parallel()

	st := store.New()
	h := &failHasher{}
	s := queue.New(st, h, queue.Options{})
	defer s.Close()

	ids := add(st, &source.Memory{FileName: "a", Data: []byte("a")})
	s.Enqueue("ghost", ids[0], ids[0], "ghost")
	waitIdle(t, s)

	assert.Equal(t, 1, h.count("a"))
	got, _ := st.Get("a")
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, 1, st.Len())
}

func TestScheduler_ClearAbandonsInFlightWork(t *testing.T) {
	t.Parallel()

	st := store.New()
	rec := &recorder{}
	h := &blockHasher{started: make(chan struct{}), release: make(chan struct{})}
	s := queue.New(st, h, queue.Options{Observer: rec})

	s.Enqueue(add(st,
		&source.Memory{FileName: "a", Data: []byte("a")},
		&source.Memory{FileName: "b", Data: []byte("b")},
	)...)

	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("计算未开始")
	}
	assert.Equal(t, queue.StateDraining, s.State())

	s.Clear()
	assert.Equal(t, queue.StateIdle, s.State())
	assert.Zero(t, s.Pending())
	waitIdle(t, s)

	close(h.release)
	s.Close()

	assert.Zero(t, st.Len())
	assert.Empty(t, rec.terminalOrder(), "清空后的完成回调不应落盘")
}

// gateHasher 只对名为 gated 的文件阻塞到 release 关闭，其余文件直接委托给真实引擎。
type gateHasher struct {
	engine  digest.Engine
	gated   string
	started chan struct{}
	release chan struct{}
}

func (h *gateHasher) Compute(ctx context.Context, f source.File, onProgress func(int)) (digest.Result, error) {
	if f.Name() == h.gated {
		close(h.started)
		<-h.release
		return digest.Result{Fast: "f", Secure: "s"}, nil
	}
	return h.engine.Compute(ctx, f, onProgress)
}

func TestScheduler_ClearThenEnqueueWhileOldWorkRuns(t *testing.T) {
	t.Parallel()

	st := store.New()
	rec := &recorder{}
	h := &gateHasher{gated: "a", started: make(chan struct{}), release: make(chan struct{})}
	s := queue.New(st, h, queue.Options{Observer: rec})

	s.Enqueue(add(st, &source.Memory{FileName: "a", Data: []byte("a")})...)
	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("计算未开始")
	}

	// 只清空调度器：仓库也必须随之清空，旧计算的写入失效。
	s.Clear()
	assert.Zero(t, st.Len())

	s.Enqueue(add(st, &source.Memory{FileName: "a2", Data: []byte("a2")})...)
	waitIdle(t, s)

	processing := 0
	for _, r := range st.Snapshot() {
		if r.Status == domain.StatusProcessing {
			processing++
		}
	}
	assert.Zero(t, processing)

	close(h.release)
	s.Close()

	assert.Equal(t, []string{"a2"}, rec.terminalOrder())
	_, ok := st.Get("a")
	assert.False(t, ok, "旧批次的记录不应重新出现")
}

func TestScheduler_InvalidEntriesDoNotYield(t *testing.T) {
	t.Parallel()

	st := store.New()
	s := queue.New(st, digest.Engine{}, queue.Options{Yield: time.Hour})
	defer s.Close()

	ids := add(st, &source.Memory{FileName: "a", Data: []byte("a")})
	s.Enqueue("ghost-1", "ghost-2", "ghost-3", "ghost-4", ids[0])

	// 无效条目之间若有让出，a 要等数小时才会开始。
	require.Eventually(t, func() bool {
		got, _ := st.Get("a")
		return got.Status == domain.StatusDone
	}, 5*time.Second, 5*time.Millisecond)
	// a 完成后处于让出期，调度器仍在 draining。
	assert.Equal(t, queue.StateDraining, s.State())
}

func TestScheduler_ClearThenNothingIsIdle(t *testing.T) {
	t.Parallel()

	st := store.New()
	s := queue.New(st, digest.Engine{}, queue.Options{})
	defer s.Close()

	s.Clear()
	s.Enqueue()
	waitIdle(t, s)

	assert.Equal(t, queue.StateIdle, s.State())
	assert.Zero(t, st.Len())
}

func TestScheduler_EnqueueWhileDraining(t *testing.T) {
	t.Parallel()

	st := store.New()
	rec := &recorder{}
	s := queue.New(st, digest.Engine{}, queue.Options{Observer: rec, Yield: time.Millisecond})
	defer s.Close()

	s.Enqueue(add(st, &source.Memory{FileName: "first", Data: []byte("1")})...)
	s.Enqueue(add(st, &source.Memory{FileName: "second", Data: []byte("2")})...)
	waitIdle(t, s)

	assert.Equal(t, []string{"first", "second"}, rec.terminalOrder())
}

func TestScheduler_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	st := store.New()
	h := &blockHasher{started: make(chan struct{}), release: make(chan struct{})}
	s := queue.New(st, h, queue.Options{})
	defer func() {
		close(h.release)
		s.Close()
	}()

	s.Enqueue(add(st, &source.Memory{FileName: "a"})...)
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestInvalidQueueEntryError(t *testing.T) {
	t.Parallel()

	assert.Contains(t, (&queue.InvalidQueueEntryError{ID: "x", Missing: true}).Error(), "无对应记录")
	assert.Contains(t, (&queue.InvalidQueueEntryError{ID: "x", Status: domain.StatusDone}).Error(), "done")
}

func TestScheduler_CloseKeepsRecords(t *testing.T) {
	t.Parallel()

	st := store.New()
	s := queue.New(st, digest.Engine{}, queue.Options{})

	s.Enqueue(add(st, &source.Memory{FileName: "kept", Data: []byte("k")})...)
	waitIdle(t, s)
	s.Close()

	got, ok := st.Get("kept")
	require.True(t, ok, "Close 不应清空仓库")
	assert.Equal(t, domain.StatusDone, got.Status)
}
