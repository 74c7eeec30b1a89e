package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chehui/errors"
	"chehui/metrics"
)

// MetricStore 内存指标仓储
type MetricStore struct {
	rows  map[string]*metrics.RetrievalMetric
	mutex sync.RWMutex
}

// NewMetricStore 创建内存指标仓储
func NewMetricStore() *MetricStore {
	return &MetricStore{
		rows: make(map[string]*metrics.RetrievalMetric),
	}
}

func metricKey(operatorID string, periodType metrics.PeriodType, periodStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", operatorID, periodType, periodStart.Unix())
}

// Upsert 实现 IMetricRepository 接口
func (s *MetricStore) Upsert(ctx context.Context, m *metrics.RetrievalMetric) error {
	if m == nil || m.OperatorID == "" {
		return errors.NewValidationError("operator id is required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	clone := *m
	s.rows[metricKey(m.OperatorID, m.PeriodType, m.PeriodStart)] = &clone
	return nil
}

// Get 实现 IMetricRepository 接口
func (s *MetricStore) Get(ctx context.Context, operatorID string, periodType metrics.PeriodType, periodStart time.Time) (*metrics.RetrievalMetric, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	m, exists := s.rows[metricKey(operatorID, periodType, periodStart)]
	if !exists {
		return nil, errors.NewNotFoundError("retrieval metric not found: %s %s", operatorID, periodType)
	}
	clone := *m
	return &clone, nil
}

// ListByOperator 实现 IMetricRepository 接口
func (s *MetricStore) ListByOperator(ctx context.Context, operatorID string, periodType metrics.PeriodType, limit int) ([]*metrics.RetrievalMetric, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	matched := make([]*metrics.RetrievalMetric, 0)
	for _, m := range s.rows {
		if m.OperatorID == operatorID && m.PeriodType == periodType {
			clone := *m
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].PeriodStart.After(matched[j].PeriodStart)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
