// Package request 实现撤回请求及其生命周期状态机。
//
// 状态图：
//
//	PENDING → AUTO_APPROVED | APPROVED | REJECTED | CANCELLED
//	AUTO_APPROVED | APPROVED → COMPLETED
//
// REJECTED、CANCELLED、COMPLETED 为终态。
// 任何不允许的迁移都返回状态冲突错误并且不改变任何状态。
package request

import (
	"fmt"

	"chehui/errors"
)

// Status 撤回请求状态枚举
type Status string

const (
	// StatusPending 待审批
	StatusPending Status = "PENDING"

	// StatusAutoApproved 自动审批通过（时间窗口 + 零依赖）
	StatusAutoApproved Status = "AUTO_APPROVED"

	// StatusApproved 主管人工审批通过
	StatusApproved Status = "APPROVED"

	// StatusRejected 已驳回（终态）
	StatusRejected Status = "REJECTED"

	// StatusCancelled 申请人已取消（终态）
	StatusCancelled Status = "CANCELLED"

	// StatusCompleted 撤回已执行（终态）
	StatusCompleted Status = "COMPLETED"
)

// transitions 状态迁移表
var transitions = map[Status][]Status{
	StatusPending:      {StatusAutoApproved, StatusApproved, StatusRejected, StatusCancelled},
	StatusAutoApproved: {StatusCompleted},
	StatusApproved:     {StatusCompleted},
	StatusRejected:     {},
	StatusCancelled:    {},
	StatusCompleted:    {},
}

// IsValid 判断是否为合法状态值
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal 判断是否为终态
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.IsValid()
}

// IsApproved 判断是否处于可执行撤回的已批准状态
func (s Status) IsApproved() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// CanTransitionTo 判断能否迁移到目标状态
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 构造非法迁移错误，指明当前状态与目标状态
func ErrInvalidTransition(current, attempted Status) error {
	return errors.NewStateConflictError(
		fmt.Sprintf("invalid transition: %s -> %s", current, attempted),
		string(current),
	)
}

// ActionKind 撤回请求针对的动作类型
type ActionKind string

const (
	// ActionDelete 撤回一次删除（对实体执行软删除回退）
	ActionDelete ActionKind = "DELETE"

	// ActionEdit 撤回一次编辑（按快照逐字段恢复）
	ActionEdit ActionKind = "EDIT"

	// ActionUndo 撤回一次新建（对实体执行软删除）
	ActionUndo ActionKind = "UNDO"

	// ActionRestore 撤回到快照状态
	ActionRestore ActionKind = "RESTORE"
)

// IsValid 判断是否为合法动作类型
func (a ActionKind) IsValid() bool {
	switch a {
	case ActionDelete, ActionEdit, ActionUndo, ActionRestore:
		return true
	}
	return false
}

// RestoresFromSnapshot 该动作执行时是否需要快照
// （DELETE/UNDO 执行软删除，EDIT/RESTORE 按快照恢复）
func (a ActionKind) RestoresFromSnapshot() bool {
	return a == ActionEdit || a == ActionRestore
}
