// Package sqlstore 提供撤回引擎仓储接口的 SQL 实现。
//
// 面向 sqlite 方言（驱动由宿主/测试侧空导入注册，例如
// `_ "modernc.org/sqlite"`）。时间戳统一以定宽纳秒精度的 UTC 文本存储，
// 区间查询与排序依赖文本字典序与时间序一致。
//
// "同一实体至多一个 PENDING 请求"由部分唯一索引在存储层兜底，
// 服务层的预检查只负责给出友好的状态冲突错误。
package sqlstore

import (
	"context"
	"database/sql"
)

// DDL 两张表的建表语句
const DDL = `
CREATE TABLE IF NOT EXISTS retrieval_requests (
    id               TEXT PRIMARY KEY,
    requester_id     TEXT NOT NULL,
    supervisor_id    TEXT,
    entity_type      TEXT NOT NULL,
    entity_id        INTEGER NOT NULL,
    action           TEXT NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    snapshot         TEXT,
    status           TEXT NOT NULL,
    auto_approved    INTEGER NOT NULL DEFAULT 0,
    submitted_at     TEXT NOT NULL,
    approved_at      TEXT,
    completed_at     TEXT,
    rejected_at      TEXT,
    elapsed_minutes  INTEGER NOT NULL DEFAULT 0,
    has_dependencies INTEGER NOT NULL DEFAULT 0,
    dependencies     TEXT,
    reject_reason    TEXT NOT NULL DEFAULT '',
    notified_at      TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_retrieval_requests_pending
    ON retrieval_requests (entity_type, entity_id)
    WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS ix_retrieval_requests_status
    ON retrieval_requests (status, submitted_at);

CREATE INDEX IF NOT EXISTS ix_retrieval_requests_requester
    ON retrieval_requests (requester_id, submitted_at);

CREATE TABLE IF NOT EXISTS retrieval_metrics (
    operator_id           TEXT NOT NULL,
    period_type           TEXT NOT NULL,
    period_start          TEXT NOT NULL,
    period_end            TEXT NOT NULL,
    total_actions         INTEGER NOT NULL DEFAULT 0,
    retrieval_count       INTEGER NOT NULL DEFAULT 0,
    auto_approved_count   INTEGER NOT NULL DEFAULT 0,
    manual_approved_count INTEGER NOT NULL DEFAULT 0,
    rejected_count        INTEGER NOT NULL DEFAULT 0,
    completed_count       INTEGER NOT NULL DEFAULT 0,
    accuracy_rate         REAL NOT NULL DEFAULT 100,
    computed_at           TEXT NOT NULL,
    PRIMARY KEY (operator_id, period_type, period_start, period_end)
);
`

// Migrate 执行建表（幂等）
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, DDL)
	return err
}
