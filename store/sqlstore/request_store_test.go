package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"chehui/errors"
	"chehui/request"
	"chehui/retrievable"
)

// 测试辅助：创建内存数据库并初始化表
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// 内存库按连接隔离，限制为单连接保证表对所有语句可见
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func newStoredRequest(requester string, entityID int64, submittedAt time.Time) *request.RetrievalRequest {
	req := request.NewRetrievalRequest(requester,
		retrievable.EntityRef{Type: "asset", ID: entityID},
		request.ActionDelete, "误删资产", submittedAt)
	req.ElapsedMinutes = 8
	req.Snapshot = retrievable.Snapshot{
		"name":  "服务器A",
		"count": float64(3),
		"owner": retrievable.RefValue("department", 7, "运维部"),
	}
	req.HasDependencies = true
	req.Dependencies = []retrievable.Dependent{{Type: "order_line", Count: 2}}
	return req
}

// TestRequestStore_CreateGet 写入后读回所有字段
func TestRequestStore_CreateGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()

	submitted := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	req := newStoredRequest("op-1", 42, submitted)
	require.NoError(t, store.Create(ctx, req))

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)

	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "op-1", got.RequesterID)
	assert.Nil(t, got.SupervisorID)
	assert.Equal(t, retrievable.EntityRef{Type: "asset", ID: 42}, got.Entity)
	assert.Equal(t, request.ActionDelete, got.Action)
	assert.Equal(t, "误删资产", got.Reason)
	assert.Equal(t, request.StatusPending, got.Status)
	assert.False(t, got.AutoApproved)
	assert.True(t, got.SubmittedAt.Equal(submitted))
	assert.Equal(t, 8, got.ElapsedMinutes)
	assert.True(t, got.HasDependencies)
	assert.Equal(t, []retrievable.Dependent{{Type: "order_line", Count: 2}}, got.Dependencies)
	assert.Nil(t, got.ApprovedAt)
	assert.Nil(t, got.CompletedAt)

	// 快照经 JSON 往返后引用标记仍可识别
	assert.Equal(t, "服务器A", got.Snapshot["name"])
	assert.True(t, retrievable.IsRef(got.Snapshot["owner"]))
}

// TestRequestStore_Get_NotFound 不存在的请求返回未找到
func TestRequestStore_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")

	_, err := store.Get(context.Background(), "missing-id")
	assert.True(t, errors.IsNotFound(err))
}

// TestRequestStore_PendingUniqueIndex 部分唯一索引拒绝同一实体的第二个待审请求
func TestRequestStore_PendingUniqueIndex(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := newStoredRequest("op-1", 1, now)
	require.NoError(t, store.Create(ctx, first))

	// 同一实体的第二个 PENDING：被索引拒绝并映射为状态冲突
	second := newStoredRequest("op-2", 1, now.Add(time.Minute))
	err := store.Create(ctx, second)
	assert.True(t, errors.IsStateConflict(err))

	// 第一个请求进入终态后索引放行新的 PENDING
	first.Status = request.StatusCancelled
	require.NoError(t, store.UpdateStatusFrom(ctx, first, request.StatusPending))
	require.NoError(t, store.Create(ctx, second))

	has, err := store.HasPendingForEntity(ctx, retrievable.EntityRef{Type: "asset", ID: 1})
	require.NoError(t, err)
	assert.True(t, has)
}

// TestRequestStore_HasPendingForEntity 仅统计 PENDING 状态
func TestRequestStore_HasPendingForEntity(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	req := newStoredRequest("op-1", 5, now)
	require.NoError(t, store.Create(ctx, req))

	has, err := store.HasPendingForEntity(ctx, retrievable.EntityRef{Type: "asset", ID: 5})
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasPendingForEntity(ctx, retrievable.EntityRef{Type: "asset", ID: 6})
	require.NoError(t, err)
	assert.False(t, has)

	req.Status = request.StatusRejected
	require.NoError(t, store.UpdateStatusFrom(ctx, req, request.StatusPending))

	has, err = store.HasPendingForEntity(ctx, retrievable.EntityRef{Type: "asset", ID: 5})
	require.NoError(t, err)
	assert.False(t, has)
}

// TestRequestStore_UpdateStatusFrom_Guard 守卫更新区分状态冲突与未找到
func TestRequestStore_UpdateStatusFrom_Guard(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	req := newStoredRequest("op-1", 9, now)
	require.NoError(t, store.Create(ctx, req))

	// 正常迁移：PENDING -> APPROVED
	supervisor := "sup-1"
	approvedAt := now.Add(2 * time.Minute)
	req.Status = request.StatusApproved
	req.SupervisorID = &supervisor
	req.ApprovedAt = &approvedAt
	require.NoError(t, store.UpdateStatusFrom(ctx, req, request.StatusPending))

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusApproved, got.Status)
	require.NotNil(t, got.SupervisorID)
	assert.Equal(t, "sup-1", *got.SupervisorID)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))

	// 期望状态不符：冲突错误携带当前状态
	err = store.UpdateStatusFrom(ctx, req, request.StatusPending)
	require.True(t, errors.IsStateConflict(err))
	var appErr errors.IError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(request.StatusApproved), appErr.Details()["current_status"])

	// 不存在的请求
	ghost := newStoredRequest("op-1", 10, now)
	err = store.UpdateStatusFrom(ctx, ghost, request.StatusPending)
	assert.True(t, errors.IsNotFound(err))
}

// TestRequestStore_ListByStatus 按提交时间排序并分页
func TestRequestStore_ListByStatus(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := int64(0); i < 3; i++ {
		req := newStoredRequest("op-1", i+1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Create(ctx, req))
	}

	listed, err := store.ListByStatus(ctx, request.StatusPending, 0, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.True(t, listed[0].SubmittedAt.Before(listed[1].SubmittedAt))

	rest, err := store.ListByStatus(ctx, request.StatusPending, 2, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := store.ListByStatus(ctx, request.StatusCompleted, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestRequestStore_ListSubmittedInRange 区间为左闭右开
func TestRequestStore_ListSubmittedInRange(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()

	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	inRange := newStoredRequest("op-1", 1, dayStart.Add(9*time.Hour))
	atEnd := newStoredRequest("op-1", 2, dayEnd)
	otherOp := newStoredRequest("op-2", 3, dayStart.Add(10*time.Hour))
	require.NoError(t, store.Create(ctx, inRange))
	require.NoError(t, store.Create(ctx, atEnd))
	require.NoError(t, store.Create(ctx, otherOp))

	listed, err := store.ListSubmittedInRange(ctx, "op-1", dayStart, dayEnd)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, inRange.ID, listed[0].ID)

	operators, err := store.ListRequestersInRange(ctx, dayStart, dayEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1", "op-2"}, operators)
}

// TestRequestStore_SubsecondBoundary 周期边界附近的亚秒时间戳：
// 时间戳以定宽文本存储，字典序必须与时间序一致，
// 周期首秒内提交的请求不得从区间查询中消失，排序也不得错乱。
func TestRequestStore_SubsecondBoundary(t *testing.T) {
	db := setupTestDB(t)
	store := NewRequestStore(db, "")
	ctx := context.Background()

	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	atStart := newStoredRequest("op-1", 1, dayStart)
	halfSecond := newStoredRequest("op-1", 2, dayStart.Add(500*time.Millisecond))
	wholeSecond := newStoredRequest("op-1", 3, dayStart.Add(time.Second))
	require.NoError(t, store.Create(ctx, atStart))
	require.NoError(t, store.Create(ctx, halfSecond))
	require.NoError(t, store.Create(ctx, wholeSecond))

	listed, err := store.ListSubmittedInRange(ctx, "op-1", dayStart, dayEnd)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, atStart.ID, listed[0].ID)
	assert.Equal(t, halfSecond.ID, listed[1].ID)
	assert.Equal(t, wholeSecond.ID, listed[2].ID)
	assert.True(t, listed[1].SubmittedAt.Equal(dayStart.Add(500*time.Millisecond)))

	byStatus, err := store.ListByStatus(ctx, request.StatusPending, 0, 10)
	require.NoError(t, err)
	require.Len(t, byStatus, 3)
	assert.Equal(t, halfSecond.ID, byStatus[1].ID)
}

// TestIsUniqueViolation 只有唯一键冲突才映射为重复待审的状态冲突
func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(fmt.Errorf(
		"constraint failed: UNIQUE constraint failed: retrieval_requests.entity_type, retrieval_requests.entity_id (2067)")))

	// 其他约束失败是程序缺陷，不得伪装成业务冲突
	assert.False(t, isUniqueViolation(fmt.Errorf(
		"constraint failed: NOT NULL constraint failed: retrieval_requests.requester_id (1299)")))
	assert.False(t, isUniqueViolation(fmt.Errorf("database is locked")))
}
