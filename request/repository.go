package request

import (
	"context"
	"time"

	"chehui/retrievable"
)

// IRequestRepository 撤回请求仓储接口。
//
// 实现必须保证 UpdateStatusFrom 是事务性的"读-校验-写"：
// 只有存储中的当前状态等于 from 时才允许写入，否则不改变任何状态。
// 这是"同一请求上的迁移串行化"与幂等 Complete 的基础。
type IRequestRepository interface {
	// Create 持久化新请求
	Create(ctx context.Context, req *RetrievalRequest) error

	// Get 按 ID 获取请求；不存在返回 NOT_FOUND 错误
	Get(ctx context.Context, id string) (*RetrievalRequest, error)

	// HasPendingForEntity 判断实体是否已有 PENDING 状态的请求
	HasPendingForEntity(ctx context.Context, ref retrievable.EntityRef) (bool, error)

	// UpdateStatusFrom 带状态守卫的更新：
	// 仅当存储中的状态为 from 时持久化 req 的全部可变字段，
	// 守卫失败返回 STATE_CONFLICT 错误且不做任何修改。
	UpdateStatusFrom(ctx context.Context, req *RetrievalRequest, from Status) error

	// ListByStatus 按状态分页列出请求（提交时间升序）
	ListByStatus(ctx context.Context, status Status, offset, limit int) ([]*RetrievalRequest, error)

	// ListSubmittedInRange 列出某申请人在 [start, end) 内提交的全部请求
	ListSubmittedInRange(ctx context.Context, requesterID string, start, end time.Time) ([]*RetrievalRequest, error)

	// ListRequestersInRange 列出 [start, end) 内出现过的全部申请人
	ListRequestersInRange(ctx context.Context, start, end time.Time) ([]string, error)
}
