package metrics

import (
	"context"
	"time"

	"chehui/errors"
	"chehui/logging"
	"chehui/request"
)

// Aggregator 指标聚合器。
//
// 从撤回请求历史推导每个操作者每个周期的计数，
// 结合外部活动计数端口计算准确率，并覆盖写入指标行。
// 对同一 (操作者, 周期) 重复执行会得到相同结果（整行重算）。
type Aggregator struct {
	requests request.IRequestRepository
	metrics  IMetricRepository
	activity IActivityCounter
	now      func() time.Time
	logger   logging.Logger
}

// AggregatorOptions 聚合器配置
type AggregatorOptions struct {
	// Now 时钟函数（注入以便测试），nil 时取 time.Now
	Now func() time.Time

	// Logger 日志器，nil 时取全局 Logger
	Logger logging.Logger
}

// NewAggregator 创建指标聚合器
func NewAggregator(requests request.IRequestRepository, metrics IMetricRepository, activity IActivityCounter, opts AggregatorOptions) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Aggregator{
		requests: requests,
		metrics:  metrics,
		activity: activity,
		now:      now,
		logger:   logger.WithFields(logging.String("component", "metrics.aggregator")),
	}
}

// Recompute 重算单个操作者在包含 ref 时刻的周期内的指标。
// 返回计算后的指标行。
func (a *Aggregator) Recompute(ctx context.Context, operatorID string, periodType PeriodType, ref time.Time) (*RetrievalMetric, error) {
	if operatorID == "" {
		return nil, errors.NewValidationError("operator id is required")
	}
	if !periodType.IsValid() {
		return nil, errors.NewValidationError("invalid period type: " + string(periodType))
	}

	start, end, err := periodType.Range(ref)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	reqs, err := a.requests.ListSubmittedInRange(ctx, operatorID, start, end)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list requests in period")
	}

	metric := &RetrievalMetric{
		OperatorID:  operatorID,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		ComputedAt:  a.now(),
	}

	for _, r := range reqs {
		metric.RetrievalCount++
		switch r.Status {
		case request.StatusAutoApproved:
			metric.AutoApprovedCount++
		case request.StatusApproved:
			metric.ManualApprovedCount++
		case request.StatusRejected:
			metric.RejectedCount++
		case request.StatusCompleted:
			metric.CompletedCount++
			// 完成后的审批来源由 AutoApproved 标记保留
			if r.AutoApproved {
				metric.AutoApprovedCount++
			} else {
				metric.ManualApprovedCount++
			}
		}
	}

	total, err := a.activity.CountActions(ctx, operatorID, start, end)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDependency, "count operator actions")
	}
	metric.TotalActions = total
	metric.AccuracyRate = AccuracyRate(total, metric.RetrievalCount)

	if err := a.metrics.Upsert(ctx, metric); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "upsert retrieval metric")
	}

	a.logger.Info(ctx, "指标已重算",
		logging.String("operator_id", operatorID),
		logging.String("period_type", string(periodType)),
		logging.Time("period_start", start),
		logging.Int64("retrieval_count", metric.RetrievalCount),
		logging.Float64("accuracy_rate", metric.AccuracyRate),
	)
	return metric, nil
}

// RecomputeAll 重算周期内出现过的全部操作者的指标。
// 单个操作者失败只记日志并继续，返回成功重算的行数。
func (a *Aggregator) RecomputeAll(ctx context.Context, periodType PeriodType, ref time.Time) (int, error) {
	if !periodType.IsValid() {
		return 0, errors.NewValidationError("invalid period type: " + string(periodType))
	}
	start, end, err := periodType.Range(ref)
	if err != nil {
		return 0, errors.NewValidationError(err.Error())
	}

	operators, err := a.requests.ListRequestersInRange(ctx, start, end)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "list operators in period")
	}

	done := 0
	for _, op := range operators {
		if _, err := a.Recompute(ctx, op, periodType, ref); err != nil {
			a.logger.Warn(ctx, "操作者指标重算失败",
				logging.String("operator_id", op),
				logging.Error(err),
			)
			continue
		}
		done++
	}
	return done, nil
}
