// Package memstore 提供撤回引擎仓储接口的内存实现。
//
// 不持久化，进程重启后数据丢失。仅用于开发和测试环境。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"chehui/errors"
	"chehui/request"
	"chehui/retrievable"
)

// RequestStore 内存撤回请求仓储
type RequestStore struct {
	requests map[string]*request.RetrievalRequest
	mutex    sync.RWMutex
}

// NewRequestStore 创建内存请求仓储
func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]*request.RetrievalRequest),
	}
}

// Create 实现 IRequestRepository 接口
func (s *RequestStore) Create(ctx context.Context, req *request.RetrievalRequest) error {
	if req == nil || req.ID == "" {
		return errors.NewValidationError("request id is required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return errors.NewStateConflictError("request already exists", string(req.Status))
	}
	// 与 SQL 实现的部分唯一索引语义保持一致
	for _, existing := range s.requests {
		if existing.Entity == req.Entity && existing.Status == request.StatusPending && req.Status == request.StatusPending {
			return errors.NewStateConflictError(
				"entity already has a pending retrieval request", string(request.StatusPending))
		}
	}

	s.requests[req.ID] = req.Clone()
	return nil
}

// Get 实现 IRequestRepository 接口
func (s *RequestStore) Get(ctx context.Context, id string) (*request.RetrievalRequest, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, errors.NewNotFoundError("retrieval request not found: %s", id)
	}
	return req.Clone(), nil
}

// HasPendingForEntity 实现 IRequestRepository 接口
func (s *RequestStore) HasPendingForEntity(ctx context.Context, ref retrievable.EntityRef) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, req := range s.requests {
		if req.Entity == ref && req.Status == request.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatusFrom 实现 IRequestRepository 接口。
// 读-校验-写在同一把锁内完成，与 SQL 实现的守卫更新语义一致。
func (s *RequestStore) UpdateStatusFrom(ctx context.Context, req *request.RetrievalRequest, from request.Status) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, exists := s.requests[req.ID]
	if !exists {
		return errors.NewNotFoundError("retrieval request not found: %s", req.ID)
	}
	if stored.Status != from {
		return errors.NewStateConflictError(
			"request status changed concurrently", string(stored.Status))
	}

	s.requests[req.ID] = req.Clone()
	return nil
}

// ListByStatus 实现 IRequestRepository 接口
func (s *RequestStore) ListByStatus(ctx context.Context, status request.Status, offset, limit int) ([]*request.RetrievalRequest, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	matched := make([]*request.RetrievalRequest, 0)
	for _, req := range s.requests {
		if req.Status == status {
			matched = append(matched, req.Clone())
		}
	}
	// 提交时间相同时按 ID 定序，保证跨多次调用的分页遍历稳定
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SubmittedAt.Equal(matched[j].SubmittedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].SubmittedAt.Before(matched[j].SubmittedAt)
	})

	if offset >= len(matched) {
		return []*request.RetrievalRequest{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

// ListSubmittedInRange 实现 IRequestRepository 接口
func (s *RequestStore) ListSubmittedInRange(ctx context.Context, requesterID string, start, end time.Time) ([]*request.RetrievalRequest, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	matched := make([]*request.RetrievalRequest, 0)
	for _, req := range s.requests {
		if req.RequesterID != requesterID {
			continue
		}
		if req.SubmittedAt.Before(start) || !req.SubmittedAt.Before(end) {
			continue
		}
		matched = append(matched, req.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.Before(matched[j].SubmittedAt)
	})
	return matched, nil
}

// ListRequestersInRange 实现 IRequestRepository 接口
func (s *RequestStore) ListRequestersInRange(ctx context.Context, start, end time.Time) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seen := make(map[string]struct{})
	for _, req := range s.requests {
		if req.SubmittedAt.Before(start) || !req.SubmittedAt.Before(end) {
			continue
		}
		seen[req.RequesterID] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for op := range seen {
		result = append(result, op)
	}
	sort.Strings(result)
	return result, nil
}

// Clear 清空所有请求（测试用）
func (s *RequestStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.requests = make(map[string]*request.RetrievalRequest)
}
