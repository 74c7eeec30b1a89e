package request

import (
	"time"

	"github.com/google/uuid"

	"chehui/retrievable"
)

// RetrievalRequest 一次针对单个实体的撤回请求。
//
// 该记录同时是审计轨迹：行从不物理删除，只有状态随迁移变化。
// 快照在提交时捕获一次，之后不可变。
type RetrievalRequest struct {
	// ID 请求唯一标识（UUID）
	ID string `json:"id" db:"id"`

	// RequesterID 申请人标识
	RequesterID string `json:"requester_id" db:"requester_id"`

	// SupervisorID 审批主管标识（自动审批或未决时为空）
	SupervisorID *string `json:"supervisor_id,omitempty" db:"supervisor_id"`

	// Entity 目标实体的带类型标签引用
	Entity retrievable.EntityRef `json:"entity" db:"-"`

	// Action 被撤回动作的类型
	Action ActionKind `json:"action" db:"action"`

	// Reason 申请理由（自由文本）
	Reason string `json:"reason" db:"reason"`

	// Snapshot 实体变更前状态的不可变快照
	Snapshot retrievable.Snapshot `json:"snapshot" db:"snapshot"`

	// Status 当前状态
	Status Status `json:"status" db:"status"`

	// AutoApproved 是否由自动审批通过（进入 COMPLETED 后仍保留，供指标统计）
	AutoApproved bool `json:"auto_approved" db:"auto_approved"`

	// SubmittedAt 提交时间
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`

	// ApprovedAt 审批通过时间（含自动审批）
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	// CompletedAt 撤回执行完成时间；当且仅当状态为 COMPLETED 时非空
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// RejectedAt 驳回时间
	RejectedAt *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`

	// ElapsedMinutes 实体创建到请求提交经过的分钟数
	ElapsedMinutes int `json:"elapsed_minutes" db:"elapsed_minutes"`

	// HasDependencies 提交时刻是否存在依赖记录
	HasDependencies bool `json:"has_dependencies" db:"has_dependencies"`

	// Dependencies 提交时刻的结构化依赖清单
	Dependencies []retrievable.Dependent `json:"dependencies,omitempty" db:"dependencies"`

	// RejectReason 驳回理由
	RejectReason string `json:"reject_reason,omitempty" db:"reject_reason"`

	// NotifiedAt 最近一次通知发出时间（通知为尽力而为）
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
}

// NewRetrievalRequest 创建处于 PENDING 状态的新请求
func NewRetrievalRequest(requesterID string, entity retrievable.EntityRef, action ActionKind, reason string, now time.Time) *RetrievalRequest {
	return &RetrievalRequest{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		Entity:      entity,
		Action:      action,
		Reason:      reason,
		Status:      StatusPending,
		SubmittedAt: now,
	}
}

// IsPending 是否处于待审状态
func (r *RetrievalRequest) IsPending() bool {
	return r.Status == StatusPending
}

// markAutoApproved 标记自动审批通过（仅状态机内部调用）
func (r *RetrievalRequest) markAutoApproved(now time.Time) {
	r.Status = StatusAutoApproved
	r.AutoApproved = true
	at := now
	r.ApprovedAt = &at
}

// markApproved 标记人工审批通过（仅状态机内部调用）
func (r *RetrievalRequest) markApproved(supervisorID string, now time.Time) {
	r.Status = StatusApproved
	r.SupervisorID = &supervisorID
	at := now
	r.ApprovedAt = &at
}

// markRejected 标记驳回（仅状态机内部调用）
func (r *RetrievalRequest) markRejected(supervisorID, reason string, now time.Time) {
	r.Status = StatusRejected
	r.SupervisorID = &supervisorID
	r.RejectReason = reason
	at := now
	r.RejectedAt = &at
}

// markCancelled 标记取消（仅状态机内部调用）
func (r *RetrievalRequest) markCancelled() {
	r.Status = StatusCancelled
}

// markCompleted 标记撤回执行完成（仅状态机内部调用）
func (r *RetrievalRequest) markCompleted(now time.Time) {
	r.Status = StatusCompleted
	at := now
	r.CompletedAt = &at
}

// markNotified 记录通知发出时间
func (r *RetrievalRequest) markNotified(now time.Time) {
	at := now
	r.NotifiedAt = &at
}

// Clone 返回请求的深拷贝（内存仓储与测试用）
func (r *RetrievalRequest) Clone() *RetrievalRequest {
	clone := *r
	clone.Snapshot = r.Snapshot.Clone()
	if r.SupervisorID != nil {
		v := *r.SupervisorID
		clone.SupervisorID = &v
	}
	clone.ApprovedAt = cloneTime(r.ApprovedAt)
	clone.CompletedAt = cloneTime(r.CompletedAt)
	clone.RejectedAt = cloneTime(r.RejectedAt)
	clone.NotifiedAt = cloneTime(r.NotifiedAt)
	if r.Dependencies != nil {
		clone.Dependencies = make([]retrievable.Dependent, len(r.Dependencies))
		copy(clone.Dependencies, r.Dependencies)
	}
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
