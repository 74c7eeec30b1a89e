package sweeper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chehui/errors"
	"chehui/logging"
	"chehui/request"
	"chehui/retrievable"
	"chehui/store/memstore"
	"chehui/sweeper"
)

// sweepEntity 测试用可撤回实体
type sweepEntity struct {
	id        int64
	createdAt time.Time
	deleted   bool
	deps      []retrievable.Dependent
}

func (e *sweepEntity) GetID() int64                   { return e.id }
func (e *sweepEntity) GetCreatedAt() time.Time        { return e.createdAt }
func (e *sweepEntity) IsDeleted() bool                { return e.deleted }
func (e *sweepEntity) Snapshot() retrievable.Snapshot { return retrievable.Snapshot{"id": e.id} }

func (e *sweepEntity) Restore(snapshot retrievable.Snapshot) error {
	if snapshot == nil {
		e.deleted = true
	}
	return nil
}

func (e *sweepEntity) Dependents(ctx context.Context) ([]retrievable.Dependent, error) {
	return e.deps, nil
}

// countingNotifier 计数通知器
type countingNotifier struct {
	mutex           sync.Mutex
	requesterCalls  int
	supervisorCalls int
}

func (n *countingNotifier) NotifySupervisorOfPendingRequest(ctx context.Context, req *request.RetrievalRequest) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.supervisorCalls++
	return nil
}

func (n *countingNotifier) NotifyRequesterOfDecision(ctx context.Context, req *request.RetrievalRequest) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.requesterCalls++
	return nil
}

func (n *countingNotifier) requester() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.requesterCalls
}

// fakeLock 可控清扫锁
type fakeLock struct {
	available bool
	acquired  int
	released  int
}

func (l *fakeLock) TryAcquire(ctx context.Context) (bool, error) {
	if !l.available {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released++
	return nil
}

// sweepFixture 清扫器测试夹具
type sweepFixture struct {
	service  *request.RetrievalService
	store    *memstore.RequestStore
	notifier *countingNotifier
	entity   *sweepEntity
}

func newSweepFixture(t *testing.T, elapsed time.Duration, deps []retrievable.Dependent) *sweepFixture {
	t.Helper()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := &sweepFixture{
		store:    memstore.NewRequestStore(),
		notifier: &countingNotifier{},
		entity:   &sweepEntity{id: 1, createdAt: t0, deps: deps},
	}

	registry := retrievable.NewRegistry()
	registry.MustRegister("asset", retrievable.ProviderFunc(
		func(ctx context.Context, id int64) (retrievable.IRetrievable, error) {
			if id != f.entity.id {
				return nil, errors.NewNotFoundError("asset not found: %d", id)
			}
			return f.entity, nil
		}))

	f.service = request.NewRetrievalService(f.store, registry, f.notifier, request.ServiceOptions{
		WindowMinutes: 15,
		Now:           func() time.Time { return t0.Add(elapsed) },
		Logger:        logging.NewNoopLogger(),
	})
	return f
}

func (f *sweepFixture) submit(t *testing.T) *request.RetrievalRequest {
	t.Helper()
	req, err := f.service.Submit(context.Background(), request.SubmitInput{
		RequesterID: "op-1",
		Entity:      retrievable.EntityRef{Type: "asset", ID: 1},
		Action:      request.ActionDelete,
		Reason:      "误删",
	})
	require.NoError(t, err)
	return req
}

// TestSweep_AdvancesClearedDependencies 依赖清除后清扫推进请求
func TestSweep_AdvancesClearedDependencies(t *testing.T) {
	deps := []retrievable.Dependent{{Type: "order_line", Count: 2}}
	f := newSweepFixture(t, 5*time.Minute, deps)

	req := f.submit(t)
	assert.Equal(t, request.StatusPending, req.Status)

	sw := sweeper.New(f.service, f.store, sweeper.Options{Logger: logging.NewNoopLogger()})

	// 依赖尚在：不推进
	advanced, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)

	// 依赖清除：推进到 AUTO_APPROVED 并通知申请人
	f.entity.deps = nil
	advanced, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	stored, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusAutoApproved, stored.Status)
	assert.True(t, stored.AutoApproved)
	assert.NotNil(t, stored.ApprovedAt)
	// 提交时刻的依赖档案保留，作为请求曾被阻塞的审计记录
	assert.True(t, stored.HasDependencies)
	assert.Equal(t, deps, stored.Dependencies)
	assert.Equal(t, 1, f.notifier.requester())
}

// TestSweep_PagesThroughBacklog 滞留请求占满第一页时，后续页的请求仍被复查
func TestSweep_PagesThroughBacklog(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	entities := map[int64]*sweepEntity{
		// 超窗请求：永远不会被自动批准，长期滞留在队首
		1: {id: 1, createdAt: t0.Add(-30 * time.Minute)},
		2: {id: 2, createdAt: t0, deps: []retrievable.Dependent{{Type: "x", Count: 1}}},
		3: {id: 3, createdAt: t0, deps: []retrievable.Dependent{{Type: "x", Count: 1}}},
	}

	store := memstore.NewRequestStore()
	registry := retrievable.NewRegistry()
	registry.MustRegister("asset", retrievable.ProviderFunc(
		func(ctx context.Context, id int64) (retrievable.IRetrievable, error) {
			e, ok := entities[id]
			if !ok {
				return nil, errors.NewNotFoundError("asset not found: %d", id)
			}
			return e, nil
		}))
	now := t0.Add(5 * time.Minute)
	service := request.NewRetrievalService(store, registry, &countingNotifier{}, request.ServiceOptions{
		WindowMinutes: 15,
		Now:           func() time.Time { return now },
		Logger:        logging.NewNoopLogger(),
	})

	for id := int64(1); id <= 3; id++ {
		_, err := service.Submit(context.Background(), request.SubmitInput{
			RequesterID: "op-1",
			Entity:      retrievable.EntityRef{Type: "asset", ID: id},
			Action:      request.ActionDelete,
			Reason:      "误删",
		})
		require.NoError(t, err)
		now = now.Add(time.Second)
	}

	entities[2].deps = nil
	entities[3].deps = nil

	// 页大小 1：滞留请求独占一页，依赖清除的两个请求在后续页
	sw := sweeper.New(service, store, sweeper.Options{BatchSize: 1, Logger: logging.NewNoopLogger()})
	advanced, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, advanced)

	stillPending, err := store.ListByStatus(context.Background(), request.StatusPending, 0, 10)
	require.NoError(t, err)
	require.Len(t, stillPending, 1)
	assert.Equal(t, int64(1), stillPending[0].Entity.ID)
}

// TestSweep_Idempotent 重复清扫不二次推进、不二次通知
func TestSweep_Idempotent(t *testing.T) {
	f := newSweepFixture(t, 5*time.Minute, []retrievable.Dependent{{Type: "x", Count: 1}})
	f.submit(t)
	f.entity.deps = nil

	sw := sweeper.New(f.service, f.store, sweeper.Options{Logger: logging.NewNoopLogger()})

	advanced, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	advanced, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)
	assert.Equal(t, 1, f.notifier.requester(), "不应重复通知")

	stats := sw.Stats()
	assert.Equal(t, int64(2), stats.Runs)
	assert.Equal(t, int64(1), stats.TotalAdvanced)
}

// TestSweep_OutsideWindowStaysPending 提交时已超窗的请求永远不会被自动批准
func TestSweep_OutsideWindowStaysPending(t *testing.T) {
	f := newSweepFixture(t, 30*time.Minute, nil)
	req := f.submit(t)
	assert.Equal(t, request.StatusPending, req.Status)

	sw := sweeper.New(f.service, f.store, sweeper.Options{Logger: logging.NewNoopLogger()})
	advanced, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)

	stored, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, stored.Status)
}

// TestSweep_LockHeldByOther 锁被其他实例持有时跳过本轮
func TestSweep_LockHeldByOther(t *testing.T) {
	f := newSweepFixture(t, 5*time.Minute, []retrievable.Dependent{{Type: "x", Count: 1}})
	f.submit(t)
	f.entity.deps = nil

	lock := &fakeLock{available: false}
	sw := sweeper.New(f.service, f.store, sweeper.Options{
		Lock:   lock,
		Logger: logging.NewNoopLogger(),
	})

	advanced, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, advanced)

	// 锁可用后正常清扫并释放锁
	lock.available = true
	advanced, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

// TestSweeper_StartStop 后台循环启动与优雅停止
func TestSweeper_StartStop(t *testing.T) {
	f := newSweepFixture(t, 5*time.Minute, []retrievable.Dependent{{Type: "x", Count: 1}})
	req := f.submit(t)
	f.entity.deps = nil

	sw := sweeper.New(f.service, f.store, sweeper.Options{
		Interval: 20 * time.Millisecond,
		Logger:   logging.NewNoopLogger(),
	})
	require.NoError(t, sw.Start(context.Background()))

	assert.Eventually(t, func() bool {
		stored, err := f.store.Get(context.Background(), req.ID)
		return err == nil && stored.Status == request.StatusAutoApproved
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	// 停止后再次 Stop 是安全的
	sw.Stop()
}
