package request

import (
	"context"
	"strings"
	"time"

	"chehui/errors"
	"chehui/logging"
	"chehui/retrievable"
)

// ServiceOptions 撤回服务配置
type ServiceOptions struct {
	// WindowMinutes 自动审批时间窗口（分钟），<= 0 时取默认值 15
	WindowMinutes int

	// Now 时钟函数（注入以便测试），nil 时取 time.Now
	Now func() time.Time

	// Logger 日志器，nil 时取全局 Logger
	Logger logging.Logger
}

// RetrievalService 撤回请求状态机的唯一入口。
//
// 所有迁移操作要么全部生效要么全部不生效：守卫失败时不持久化任何变更。
// 通知失败只记日志，从不影响迁移结果。
type RetrievalService struct {
	repo     IRequestRepository
	registry *retrievable.Registry
	notifier INotifier
	window   int
	now      func() time.Time
	logger   logging.Logger
}

// NewRetrievalService 创建撤回服务
func NewRetrievalService(repo IRequestRepository, registry *retrievable.Registry, notifier INotifier, opts ServiceOptions) *RetrievalService {
	window := opts.WindowMinutes
	if window <= 0 {
		window = retrievable.DefaultWindowMinutes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &RetrievalService{
		repo:     repo,
		registry: registry,
		notifier: notifier,
		window:   window,
		now:      now,
		logger:   logger.WithFields(logging.String("component", "request.service")),
	}
}

// WindowMinutes 返回生效的时间窗口（分钟）
func (s *RetrievalService) WindowMinutes() int { return s.window }

// SubmitInput 提交撤回请求的输入
type SubmitInput struct {
	// RequesterID 申请人标识
	RequesterID string

	// Entity 目标实体引用
	Entity retrievable.EntityRef

	// Action 被撤回动作的类型
	Action ActionKind

	// Reason 申请理由
	Reason string
}

// CheckRetrievable 对实体执行完整的可撤回性判定（供界面预检）。
// 不创建请求，只返回判定结果与全部未通过原因。
func (s *RetrievalService) CheckRetrievable(ctx context.Context, ref retrievable.EntityRef) (retrievable.Eligibility, error) {
	entity, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		return retrievable.Eligibility{}, err
	}
	hasPending, err := s.repo.HasPendingForEntity(ctx, ref)
	if err != nil {
		return retrievable.Eligibility{}, errors.WrapDatabaseError(ctx, err, "check pending request")
	}
	return retrievable.Evaluate(ctx, entity, retrievable.EvalInput{
		WindowMinutes: s.window,
		Now:           s.now(),
		HasPending:    hasPending,
	})
}

// Submit 提交撤回请求（初始迁移）。
//
// 流程：
//  1. 校验输入；
//  2. 经注册表解析实体（未注册类型即"不可撤回"）；
//  3. 该实体已有 PENDING 请求时报状态冲突；
//  4. 捕获快照、依赖清单与经过时间；
//  5. 立即评估自动审批资格（窗口内 且 零依赖 且 未删除），
//     合格则直接进入 AUTO_APPROVED 并通知申请人，
//     否则保持 PENDING 并通知主管。
func (s *RetrievalService) Submit(ctx context.Context, in SubmitInput) (*RetrievalRequest, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}

	entity, err := s.registry.Resolve(ctx, in.Entity)
	if err != nil {
		return nil, err
	}

	hasPending, err := s.repo.HasPendingForEntity(ctx, in.Entity)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "check pending request")
	}
	if hasPending {
		return nil, errors.NewStateConflictError(
			"entity already has a pending retrieval request", string(StatusPending)).
			WithDetails(map[string]any{"entity": in.Entity.String()})
	}

	now := s.now()
	eval, err := retrievable.Evaluate(ctx, entity, retrievable.EvalInput{
		WindowMinutes: s.window,
		Now:           now,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDependency, "evaluate retrievability")
	}

	req := NewRetrievalRequest(in.RequesterID, in.Entity, in.Action, in.Reason, now)
	req.Snapshot = entity.Snapshot().Clone()
	req.ElapsedMinutes = eval.ElapsedMinutes
	req.HasDependencies = len(eval.Dependents) > 0
	req.Dependencies = eval.Dependents

	autoApprove := eval.OK
	if autoApprove {
		req.markAutoApproved(now)
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "create retrieval request")
	}

	s.logger.Info(ctx, "撤回请求已提交",
		logging.String("request_id", req.ID),
		logging.String("entity", req.Entity.String()),
		logging.String("status", string(req.Status)),
		logging.Int("elapsed_minutes", req.ElapsedMinutes),
		logging.Bool("has_dependencies", req.HasDependencies),
	)

	// 自动审批通知申请人，人工路径通知主管
	if autoApprove {
		s.notifyRequester(ctx, req)
	} else {
		s.notifySupervisor(ctx, req)
	}
	return req, nil
}

// Approve 主管人工审批通过。仅允许从 PENDING 迁移。
func (s *RetrievalService) Approve(ctx context.Context, id, supervisorID string) (*RetrievalRequest, error) {
	if strings.TrimSpace(supervisorID) == "" {
		return nil, errors.NewValidationError("supervisor id is required")
	}

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(StatusApproved) {
		return nil, ErrInvalidTransition(req.Status, StatusApproved)
	}

	req.markApproved(supervisorID, s.now())
	if err := s.repo.UpdateStatusFrom(ctx, req, StatusPending); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "撤回请求已批准",
		logging.String("request_id", req.ID),
		logging.String("supervisor_id", supervisorID),
	)
	s.notifyRequester(ctx, req)
	return req, nil
}

// Reject 主管驳回。仅允许从 PENDING 迁移，且驳回理由不能为空。
func (s *RetrievalService) Reject(ctx context.Context, id, supervisorID, reason string) (*RetrievalRequest, error) {
	if strings.TrimSpace(supervisorID) == "" {
		return nil, errors.NewValidationError("supervisor id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.NewValidationError("reject reason is required")
	}

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(StatusRejected) {
		return nil, ErrInvalidTransition(req.Status, StatusRejected)
	}

	req.markRejected(supervisorID, reason, s.now())
	if err := s.repo.UpdateStatusFrom(ctx, req, StatusPending); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "撤回请求已驳回",
		logging.String("request_id", req.ID),
		logging.String("supervisor_id", supervisorID),
	)
	s.notifyRequester(ctx, req)
	return req, nil
}

// Cancel 申请人取消自己的请求。仅允许从 PENDING 迁移，且只能由原申请人发起。
func (s *RetrievalService) Cancel(ctx context.Context, id, requesterID string) (*RetrievalRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, errors.NewValidationError("only the original requester can cancel the request")
	}
	if !req.Status.CanTransitionTo(StatusCancelled) {
		return nil, ErrInvalidTransition(req.Status, StatusCancelled)
	}

	req.markCancelled()
	if err := s.repo.UpdateStatusFrom(ctx, req, StatusPending); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "撤回请求已取消", logging.String("request_id", req.ID))
	return req, nil
}

// Complete 执行撤回。仅允许从 APPROVED / AUTO_APPROVED 迁移。
//
// 先以状态守卫抢占请求（杜绝并发双重执行），再调用实体的 Restore：
//   - DELETE/UNDO：软删除（Restore(nil)）；
//   - EDIT/RESTORE：按提交时捕获的快照逐字段恢复（关系字段跳过）。
//
// Restore 失败时回退状态，保证不留下半完成的记录。
// 对已 COMPLETED 的请求再次调用返回状态冲突错误，实体只会被恢复一次。
func (s *RetrievalService) Complete(ctx context.Context, id string) (*RetrievalRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(StatusCompleted) {
		if req.Status == StatusCompleted {
			return nil, errors.NewStateConflictError(
				"retrieval request is already completed", string(req.Status))
		}
		return nil, ErrInvalidTransition(req.Status, StatusCompleted)
	}

	entity, err := s.registry.Resolve(ctx, req.Entity)
	if err != nil {
		return nil, err
	}

	from := req.Status
	req.markCompleted(s.now())
	if err := s.repo.UpdateStatusFrom(ctx, req, from); err != nil {
		return nil, err
	}

	var snapshot retrievable.Snapshot
	if req.Action.RestoresFromSnapshot() {
		snapshot = req.Snapshot
	}
	if err := entity.Restore(snapshot); err != nil {
		// 回退状态，避免留下"已完成但未恢复"的记录
		req.Status = from
		req.CompletedAt = nil
		if revertErr := s.repo.UpdateStatusFrom(ctx, req, StatusCompleted); revertErr != nil {
			s.logger.Error(ctx, "恢复失败且状态回退失败",
				logging.String("request_id", req.ID),
				logging.Error(revertErr),
			)
		}
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "restore entity failed")
	}

	s.logger.Info(ctx, "撤回已执行",
		logging.String("request_id", req.ID),
		logging.String("entity", req.Entity.String()),
		logging.String("action", string(req.Action)),
	)
	return req, nil
}

// Get 按 ID 查询请求
func (s *RetrievalService) Get(ctx context.Context, id string) (*RetrievalRequest, error) {
	return s.repo.Get(ctx, id)
}

// ListByStatus 按状态分页查询请求
func (s *RetrievalService) ListByStatus(ctx context.Context, status Status, offset, limit int) ([]*RetrievalRequest, error) {
	if !status.IsValid() {
		return nil, errors.NewValidationError("invalid status: " + string(status))
	}
	return s.repo.ListByStatus(ctx, status, offset, limit)
}

// TryAutoApprove 对单个 PENDING 请求重新评估自动审批资格并推进状态。
//
// 由定时清扫器调用：请求提交后依赖可能已被清除，据此补上自动审批。
// 时间窗口只会随时间流逝而失效，因此复查只看提交时刻记录的窗口结论
// 与当前的依赖状态。状态守卫保证同一时刻的重复清扫不会二次推进或二次通知。
func (s *RetrievalService) TryAutoApprove(ctx context.Context, req *RetrievalRequest) (bool, error) {
	if req.Status != StatusPending {
		return false, nil
	}
	if req.ElapsedMinutes > s.window {
		return false, nil
	}

	entity, err := s.registry.Resolve(ctx, req.Entity)
	if err != nil {
		return false, err
	}
	if entity.IsDeleted() {
		return false, nil
	}
	deps, err := entity.Dependents(ctx)
	if err != nil {
		return false, err
	}
	if len(deps) > 0 {
		return false, nil
	}

	// 提交时刻的依赖档案保留不动：它是请求曾被阻塞的审计记录，
	// 状态迁移本身已说明依赖此后被清除
	req.markAutoApproved(s.now())
	if err := s.repo.UpdateStatusFrom(ctx, req, StatusPending); err != nil {
		if errors.IsStateConflict(err) {
			// 另一个清扫实例或主管抢先迁移了状态，按未推进处理
			return false, nil
		}
		return false, err
	}

	s.logger.Info(ctx, "撤回请求已自动批准",
		logging.String("request_id", req.ID),
		logging.String("entity", req.Entity.String()),
	)
	s.notifyRequester(ctx, req)
	return true, nil
}

// validateSubmit 校验提交输入
func validateSubmit(in SubmitInput) error {
	if strings.TrimSpace(in.RequesterID) == "" {
		return errors.NewValidationError("requester id is required")
	}
	if in.Entity.IsZero() || in.Entity.Type == "" {
		return errors.NewValidationError("entity reference is required")
	}
	if !in.Action.IsValid() {
		return errors.NewValidationError("invalid action kind: " + string(in.Action))
	}
	return nil
}

// notifySupervisor 通知主管，失败只记日志
func (s *RetrievalService) notifySupervisor(ctx context.Context, req *RetrievalRequest) {
	if err := s.notifier.NotifySupervisorOfPendingRequest(ctx, req); err != nil {
		s.logger.Warn(ctx, "主管通知发送失败",
			logging.String("request_id", req.ID),
			logging.Error(err),
		)
		return
	}
	s.recordNotified(ctx, req)
}

// notifyRequester 通知申请人，失败只记日志
func (s *RetrievalService) notifyRequester(ctx context.Context, req *RetrievalRequest) {
	if err := s.notifier.NotifyRequesterOfDecision(ctx, req); err != nil {
		s.logger.Warn(ctx, "申请人通知发送失败",
			logging.String("request_id", req.ID),
			logging.Error(err),
		)
		return
	}
	s.recordNotified(ctx, req)
}

// recordNotified 记录通知时间；记录失败不影响业务结果
func (s *RetrievalService) recordNotified(ctx context.Context, req *RetrievalRequest) {
	req.markNotified(s.now())
	if err := s.repo.UpdateStatusFrom(ctx, req, req.Status); err != nil {
		s.logger.Debug(ctx, "通知时间记录失败",
			logging.String("request_id", req.ID),
			logging.Error(err),
		)
	}
}
