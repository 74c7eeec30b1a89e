package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"chehui/request"
)

// NATSConfig NATS 通知器配置
type NATSConfig struct {
	// URL NATS 服务地址；提供了 Conn 时忽略
	URL string

	// SubjectPrefix 主题前缀，默认 "chehui.notify."
	SubjectPrefix string

	// Conn 复用已有连接（可选）；为 nil 时按 URL 自建连接并负责关闭
	Conn *nats.Conn
}

// NATSNotifier 将通知以 JSON 消息发布到 NATS 主题。
//
// 主题布局：
//
//	<prefix>pending   待审请求 → 主管侧消费
//	<prefix>decision  审批结果 → 申请人侧消费
//
// 投递方式为普通 publish：通知本身是尽力而为的，丢失不影响状态机。
type NATSNotifier struct {
	cfg      NATSConfig
	conn     *nats.Conn
	ownsConn bool
}

// NewNATSNotifier 创建 NATS 通知器
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "chehui.notify."
	}

	conn := cfg.Conn
	ownsConn := false
	if conn == nil {
		if cfg.URL == "" {
			cfg.URL = nats.DefaultURL
		}
		var err error
		conn, err = nats.Connect(cfg.URL,
			nats.Timeout(5*time.Second),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		ownsConn = true
	}

	return &NATSNotifier{cfg: cfg, conn: conn, ownsConn: ownsConn}, nil
}

// Close 关闭自建的连接；复用的连接由提供方负责
func (n *NATSNotifier) Close() {
	if n.ownsConn && n.conn != nil {
		n.conn.Close()
	}
}

// pendingMessage 待审通知消息体
type pendingMessage struct {
	RequestID       string    `json:"request_id"`
	RequesterID     string    `json:"requester_id"`
	EntityType      string    `json:"entity_type"`
	EntityID        int64     `json:"entity_id"`
	Action          string    `json:"action"`
	Reason          string    `json:"reason"`
	HasDependencies bool      `json:"has_dependencies"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// decisionMessage 审批结果通知消息体
type decisionMessage struct {
	RequestID    string `json:"request_id"`
	RequesterID  string `json:"requester_id"`
	Status       string `json:"status"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	AutoApproved bool   `json:"auto_approved"`
}

// NotifySupervisorOfPendingRequest 实现 request.INotifier 接口
func (n *NATSNotifier) NotifySupervisorOfPendingRequest(ctx context.Context, req *request.RetrievalRequest) error {
	msg := pendingMessage{
		RequestID:       req.ID,
		RequesterID:     req.RequesterID,
		EntityType:      req.Entity.Type,
		EntityID:        req.Entity.ID,
		Action:          string(req.Action),
		Reason:          req.Reason,
		HasDependencies: req.HasDependencies,
		SubmittedAt:     req.SubmittedAt,
	}
	return n.publish(n.cfg.SubjectPrefix+"pending", msg)
}

// NotifyRequesterOfDecision 实现 request.INotifier 接口
func (n *NATSNotifier) NotifyRequesterOfDecision(ctx context.Context, req *request.RetrievalRequest) error {
	msg := decisionMessage{
		RequestID:    req.ID,
		RequesterID:  req.RequesterID,
		Status:       string(req.Status),
		RejectReason: req.RejectReason,
		AutoApproved: req.AutoApproved,
	}
	if req.SupervisorID != nil {
		msg.SupervisorID = *req.SupervisorID
	}
	return n.publish(n.cfg.SubjectPrefix+"decision", msg)
}

func (n *NATSNotifier) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish notification to %s: %w", subject, err)
	}
	return nil
}
