package metrics

import (
	"context"
	"time"
)

// RetrievalMetric 一个（操作者, 周期类型, 周期区间）组合的预聚合准确率快照。
//
// 由聚合器整行覆盖写入，对其他组件只读；
// AccuracyRate 永远由计数重新计算，不允许手工修改。
type RetrievalMetric struct {
	// OperatorID 操作者标识
	OperatorID string `json:"operator_id" db:"operator_id"`

	// PeriodType 周期类型
	PeriodType PeriodType `json:"period_type" db:"period_type"`

	// PeriodStart 周期起点（含）
	PeriodStart time.Time `json:"period_start" db:"period_start"`

	// PeriodEnd 周期终点（不含）
	PeriodEnd time.Time `json:"period_end" db:"period_end"`

	// TotalActions 周期内归属该操作者的动作总数（来自外部活动计数端口）
	TotalActions int64 `json:"total_actions" db:"total_actions"`

	// RetrievalCount 周期内提交的撤回请求数
	RetrievalCount int64 `json:"retrieval_count" db:"retrieval_count"`

	// AutoApprovedCount 自动批准的请求数
	AutoApprovedCount int64 `json:"auto_approved_count" db:"auto_approved_count"`

	// ManualApprovedCount 人工批准的请求数
	ManualApprovedCount int64 `json:"manual_approved_count" db:"manual_approved_count"`

	// RejectedCount 被驳回的请求数
	RejectedCount int64 `json:"rejected_count" db:"rejected_count"`

	// CompletedCount 已执行完成的请求数
	CompletedCount int64 `json:"completed_count" db:"completed_count"`

	// AccuracyRate 准确率（0–100）
	AccuracyRate float64 `json:"accuracy_rate" db:"accuracy_rate"`

	// ComputedAt 本次聚合计算时间
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}

// IMetricRepository 指标仓储接口
type IMetricRepository interface {
	// Upsert 按 (operator, period_type, period_start, period_end) 覆盖写入
	Upsert(ctx context.Context, m *RetrievalMetric) error

	// Get 查询单个指标行；不存在返回 NOT_FOUND 错误
	Get(ctx context.Context, operatorID string, periodType PeriodType, periodStart time.Time) (*RetrievalMetric, error)

	// ListByOperator 列出某操作者在指定周期类型下的全部指标行（周期起点降序）
	ListByOperator(ctx context.Context, operatorID string, periodType PeriodType, limit int) ([]*RetrievalMetric, error)
}

// AccuracyRate 准确率公式：clamp(0, 100, (total − retrievals) / total × 100)。
// total 为 0 时返回 100（没有动作就没有失误）。
func AccuracyRate(totalActions, retrievalCount int64) float64 {
	if totalActions <= 0 {
		return 100
	}
	rate := float64(totalActions-retrievalCount) / float64(totalActions) * 100
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}
