package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"chehui/errors"
	"chehui/request"
	"chehui/retrievable"
)

// RequestStore 基于 database/sql 的撤回请求仓储
type RequestStore struct {
	db        *sql.DB
	tableName string
}

// NewRequestStore 创建 SQL 请求仓储，tableName 为空时取 "retrieval_requests"
func NewRequestStore(db *sql.DB, tableName string) *RequestStore {
	if tableName == "" {
		tableName = "retrieval_requests"
	}
	return &RequestStore{db: db, tableName: tableName}
}

const requestColumns = `id, requester_id, supervisor_id, entity_type, entity_id, action, reason,
    snapshot, status, auto_approved, submitted_at, approved_at, completed_at, rejected_at,
    elapsed_minutes, has_dependencies, dependencies, reject_reason, notified_at`

// Create 实现 IRequestRepository 接口。
// 部分唯一索引 ux_retrieval_requests_pending 在并发提交时兜底，
// 唯一键冲突被映射为状态冲突错误。
func (s *RequestStore) Create(ctx context.Context, req *request.RetrievalRequest) error {
	snapshot, err := encodeSnapshot(req.Snapshot)
	if err != nil {
		return err
	}
	deps, err := encodeDependents(req.Dependencies)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (`+requestColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequesterID, req.SupervisorID,
		req.Entity.Type, req.Entity.ID, string(req.Action), req.Reason,
		snapshot, string(req.Status), boolToInt(req.AutoApproved),
		encodeTime(req.SubmittedAt), encodeTimePtr(req.ApprovedAt),
		encodeTimePtr(req.CompletedAt), encodeTimePtr(req.RejectedAt),
		req.ElapsedMinutes, boolToInt(req.HasDependencies), deps,
		req.RejectReason, encodeTimePtr(req.NotifiedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewStateConflictError(
				"entity already has a pending retrieval request", string(request.StatusPending))
		}
		return errors.WrapDatabaseError(ctx, err, "insert retrieval request")
	}
	return nil
}

// Get 实现 IRequestRepository 接口
func (s *RequestStore) Get(ctx context.Context, id string) (*request.RetrievalRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM `+s.tableName+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("retrieval request not found: %s", id)
		}
		return nil, errors.WrapDatabaseError(ctx, err, "query retrieval request")
	}
	return req, nil
}

// HasPendingForEntity 实现 IRequestRepository 接口
func (s *RequestStore) HasPendingForEntity(ctx context.Context, ref retrievable.EntityRef) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+s.tableName+`
         WHERE entity_type = ? AND entity_id = ? AND status = ?`,
		ref.Type, ref.ID, string(request.StatusPending),
	).Scan(&count)
	if err != nil {
		return false, errors.WrapDatabaseError(ctx, err, "count pending requests")
	}
	return count > 0, nil
}

// UpdateStatusFrom 实现 IRequestRepository 接口。
// UPDATE 的 WHERE 子句同时校验 id 与当前状态，即"读-校验-写"在
// 单条原子语句内完成；RowsAffected 为 0 时区分未找到与状态冲突。
func (s *RequestStore) UpdateStatusFrom(ctx context.Context, req *request.RetrievalRequest, from request.Status) error {
	snapshot, err := encodeSnapshot(req.Snapshot)
	if err != nil {
		return err
	}
	deps, err := encodeDependents(req.Dependencies)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE `+s.tableName+` SET
            supervisor_id = ?, snapshot = ?, status = ?, auto_approved = ?,
            approved_at = ?, completed_at = ?, rejected_at = ?,
            has_dependencies = ?, dependencies = ?, reject_reason = ?, notified_at = ?
         WHERE id = ? AND status = ?`,
		req.SupervisorID, snapshot, string(req.Status), boolToInt(req.AutoApproved),
		encodeTimePtr(req.ApprovedAt), encodeTimePtr(req.CompletedAt),
		encodeTimePtr(req.RejectedAt),
		boolToInt(req.HasDependencies), deps, req.RejectReason,
		encodeTimePtr(req.NotifiedAt),
		req.ID, string(from),
	)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "update retrieval request")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "rows affected")
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM `+s.tableName+` WHERE id = ?`, req.ID).Scan(&current)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("retrieval request not found: %s", req.ID)
		}
		if err != nil {
			return errors.WrapDatabaseError(ctx, err, "query current status")
		}
		return errors.NewStateConflictError("request status changed concurrently", current)
	}
	return nil
}

// ListByStatus 实现 IRequestRepository 接口
func (s *RequestStore) ListByStatus(ctx context.Context, status request.Status, offset, limit int) ([]*request.RetrievalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM `+s.tableName+`
         WHERE status = ? ORDER BY submitted_at ASC, id ASC LIMIT ? OFFSET ?`,
		string(status), limit, offset)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list requests by status")
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ListSubmittedInRange 实现 IRequestRepository 接口
func (s *RequestStore) ListSubmittedInRange(ctx context.Context, requesterID string, start, end time.Time) ([]*request.RetrievalRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM `+s.tableName+`
         WHERE requester_id = ? AND submitted_at >= ? AND submitted_at < ?
         ORDER BY submitted_at ASC`,
		requesterID, encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list requests in range")
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ListRequestersInRange 实现 IRequestRepository 接口
func (s *RequestStore) ListRequestersInRange(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT requester_id FROM `+s.tableName+`
         WHERE submitted_at >= ? AND submitted_at < ? ORDER BY requester_id`,
		encodeTime(start), encodeTime(end))
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list requesters in range")
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "scan requester id")
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// scanner 兼容 *sql.Row 与 *sql.Rows 的最小扫描接口
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*request.RetrievalRequest, error) {
	var (
		req          request.RetrievalRequest
		supervisorID sql.NullString
		action       string
		status       string
		autoApproved int
		hasDeps      int
		snapshot     sql.NullString
		deps         sql.NullString
		submittedAt  string
		approvedAt   sql.NullString
		completedAt  sql.NullString
		rejectedAt   sql.NullString
		notifiedAt   sql.NullString
	)

	if err := row.Scan(
		&req.ID, &req.RequesterID, &supervisorID,
		&req.Entity.Type, &req.Entity.ID, &action, &req.Reason,
		&snapshot, &status, &autoApproved, &submittedAt, &approvedAt,
		&completedAt, &rejectedAt, &req.ElapsedMinutes, &hasDeps,
		&deps, &req.RejectReason, &notifiedAt,
	); err != nil {
		return nil, err
	}

	req.Action = request.ActionKind(action)
	req.Status = request.Status(status)
	req.AutoApproved = autoApproved != 0
	req.HasDependencies = hasDeps != 0
	if supervisorID.Valid {
		v := supervisorID.String
		req.SupervisorID = &v
	}

	var err error
	if req.SubmittedAt, err = decodeTime(submittedAt); err != nil {
		return nil, err
	}
	if req.ApprovedAt, err = decodeTimePtr(approvedAt); err != nil {
		return nil, err
	}
	if req.CompletedAt, err = decodeTimePtr(completedAt); err != nil {
		return nil, err
	}
	if req.RejectedAt, err = decodeTimePtr(rejectedAt); err != nil {
		return nil, err
	}
	if req.NotifiedAt, err = decodeTimePtr(notifiedAt); err != nil {
		return nil, err
	}
	if req.Snapshot, err = decodeSnapshot(snapshot); err != nil {
		return nil, err
	}
	if req.Dependencies, err = decodeDependents(deps); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanRequests(rows *sql.Rows) ([]*request.RetrievalRequest, error) {
	var result []*request.RetrievalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation 识别 sqlite 唯一键冲突。
// 只认 UNIQUE 冲突：NOT NULL/CHECK 等其他约束失败属于程序缺陷，
// 不得伪装成"已有待审请求"的状态冲突。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
