package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"chehui/errors"
	"chehui/metrics"
)

// MetricStore 基于 database/sql 的指标仓储
type MetricStore struct {
	db        *sql.DB
	tableName string
}

// NewMetricStore 创建 SQL 指标仓储，tableName 为空时取 "retrieval_metrics"
func NewMetricStore(db *sql.DB, tableName string) *MetricStore {
	if tableName == "" {
		tableName = "retrieval_metrics"
	}
	return &MetricStore{db: db, tableName: tableName}
}

const metricColumns = `operator_id, period_type, period_start, period_end, total_actions,
    retrieval_count, auto_approved_count, manual_approved_count, rejected_count,
    completed_count, accuracy_rate, computed_at`

// Upsert 实现 IMetricRepository 接口。
// 以 (operator_id, period_type, period_start, period_end) 为冲突键整行覆盖。
func (s *MetricStore) Upsert(ctx context.Context, m *metrics.RetrievalMetric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (`+metricColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (operator_id, period_type, period_start, period_end) DO UPDATE SET
            total_actions = excluded.total_actions,
            retrieval_count = excluded.retrieval_count,
            auto_approved_count = excluded.auto_approved_count,
            manual_approved_count = excluded.manual_approved_count,
            rejected_count = excluded.rejected_count,
            completed_count = excluded.completed_count,
            accuracy_rate = excluded.accuracy_rate,
            computed_at = excluded.computed_at`,
		m.OperatorID, string(m.PeriodType), encodeTime(m.PeriodStart), encodeTime(m.PeriodEnd),
		m.TotalActions, m.RetrievalCount, m.AutoApprovedCount, m.ManualApprovedCount,
		m.RejectedCount, m.CompletedCount, m.AccuracyRate, encodeTime(m.ComputedAt),
	)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "upsert retrieval metric")
	}
	return nil
}

// Get 实现 IMetricRepository 接口
func (s *MetricStore) Get(ctx context.Context, operatorID string, periodType metrics.PeriodType, periodStart time.Time) (*metrics.RetrievalMetric, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metricColumns+` FROM `+s.tableName+`
         WHERE operator_id = ? AND period_type = ? AND period_start = ?`,
		operatorID, string(periodType), encodeTime(periodStart))

	m, err := scanMetric(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("retrieval metric not found: %s %s", operatorID, periodType)
		}
		return nil, errors.WrapDatabaseError(ctx, err, "query retrieval metric")
	}
	return m, nil
}

// ListByOperator 实现 IMetricRepository 接口
func (s *MetricStore) ListByOperator(ctx context.Context, operatorID string, periodType metrics.PeriodType, limit int) ([]*metrics.RetrievalMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM `+s.tableName+`
         WHERE operator_id = ? AND period_type = ?
         ORDER BY period_start DESC LIMIT ?`,
		operatorID, string(periodType), limit)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list retrieval metrics")
	}
	defer rows.Close()

	var result []*metrics.RetrievalMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMetric(row scanner) (*metrics.RetrievalMetric, error) {
	var (
		m           metrics.RetrievalMetric
		periodType  string
		periodStart string
		periodEnd   string
		computedAt  string
	)
	if err := row.Scan(
		&m.OperatorID, &periodType, &periodStart, &periodEnd, &m.TotalActions,
		&m.RetrievalCount, &m.AutoApprovedCount, &m.ManualApprovedCount,
		&m.RejectedCount, &m.CompletedCount, &m.AccuracyRate, &computedAt,
	); err != nil {
		return nil, err
	}

	m.PeriodType = metrics.PeriodType(periodType)
	var err error
	if m.PeriodStart, err = decodeTime(periodStart); err != nil {
		return nil, err
	}
	if m.PeriodEnd, err = decodeTime(periodEnd); err != nil {
		return nil, err
	}
	if m.ComputedAt, err = decodeTime(computedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
