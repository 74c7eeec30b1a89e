// Package notify 提供通知端口的具体实现。
//
// 端口接口定义在 request 包（request.INotifier）。
// 所有实现都是尽力而为：发送失败由状态机记录日志后吞掉，
// 从不影响触发通知的状态迁移。
package notify

import (
	"context"

	"chehui/logging"
	"chehui/request"
)

// LogNotifier 以结构化日志输出通知（默认实现，便于本地开发与排障）
type LogNotifier struct {
	logger logging.Logger
}

// NewLogNotifier 创建日志通知器，logger 为 nil 时取全局 Logger
func NewLogNotifier(logger logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogNotifier{
		logger: logger.WithFields(logging.String("component", "notify.log")),
	}
}

// NotifySupervisorOfPendingRequest 实现 request.INotifier 接口
func (n *LogNotifier) NotifySupervisorOfPendingRequest(ctx context.Context, req *request.RetrievalRequest) error {
	n.logger.Info(ctx, "待审撤回请求等待主管审批",
		logging.String("request_id", req.ID),
		logging.String("requester_id", req.RequesterID),
		logging.String("entity", req.Entity.String()),
		logging.String("action", string(req.Action)),
		logging.Bool("has_dependencies", req.HasDependencies),
	)
	return nil
}

// NotifyRequesterOfDecision 实现 request.INotifier 接口
func (n *LogNotifier) NotifyRequesterOfDecision(ctx context.Context, req *request.RetrievalRequest) error {
	n.logger.Info(ctx, "撤回请求审批结果已产生",
		logging.String("request_id", req.ID),
		logging.String("requester_id", req.RequesterID),
		logging.String("status", string(req.Status)),
		logging.String("reject_reason", req.RejectReason),
	)
	return nil
}
