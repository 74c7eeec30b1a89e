package request

import "context"

// INotifier 通知端口（由协作方实现）。
//
// 两个调用都是尽力而为：发送失败由状态机记录日志后吞掉，
// 绝不使触发它的状态迁移失败。
type INotifier interface {
	// NotifySupervisorOfPendingRequest 通知主管有新的待审请求
	NotifySupervisorOfPendingRequest(ctx context.Context, req *RetrievalRequest) error

	// NotifyRequesterOfDecision 通知申请人审批结果（批准/自动批准/驳回）
	NotifyRequesterOfDecision(ctx context.Context, req *RetrievalRequest) error
}

// NoopNotifier 空通知实现（用于测试与未接入通知的场景）
type NoopNotifier struct{}

func (NoopNotifier) NotifySupervisorOfPendingRequest(ctx context.Context, req *RetrievalRequest) error {
	return nil
}

func (NoopNotifier) NotifyRequesterOfDecision(ctx context.Context, req *RetrievalRequest) error {
	return nil
}
