package retrievable

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultWindowMinutes 默认撤回时间窗口（分钟）
const DefaultWindowMinutes = 15

// Eligibility 一次可撤回性判定的完整结果。
// OK 为 false 时 Reasons 列出全部未通过的门槛，而不是只给第一条。
type Eligibility struct {
	// OK 是否可撤回
	OK bool

	// Reasons 全部未通过原因（OK 时为空）
	Reasons []string

	// ElapsedMinutes 实体创建到判定时刻经过的分钟数
	ElapsedMinutes int

	// Dependents 判定时刻的依赖清单
	Dependents []Dependent
}

// WithinWindow 时间窗口门槛是否通过（elapsed <= window 视为通过）
func (e Eligibility) WithinWindow(windowMinutes int) bool {
	return e.ElapsedMinutes <= windowMinutes
}

// EvalInput 判定输入。
// HasPending 由调用方（请求仓储）提供：该实体是否已有待审请求。
type EvalInput struct {
	// WindowMinutes 时间窗口（分钟），<= 0 时取 DefaultWindowMinutes
	WindowMinutes int

	// Now 判定时刻（墙钟时间，由调用方注入以便测试）
	Now time.Time

	// HasPending 该实体是否已存在 PENDING 状态的撤回请求
	HasPending bool
}

// Evaluate 执行 canBeRetrieved 判定。
// 四道门槛全部检查、全部原因收集：
//  1. 创建时间距今不超过时间窗口；
//  2. 依赖检查器报告零依赖；
//  3. 实体未被软删除；
//  4. 该实体没有其他 PENDING 请求。
func Evaluate(ctx context.Context, e IRetrievable, in EvalInput) (Eligibility, error) {
	window := in.WindowMinutes
	if window <= 0 {
		window = DefaultWindowMinutes
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	elapsed := int(now.Sub(e.GetCreatedAt()).Minutes())
	if elapsed < 0 {
		elapsed = 0
	}

	deps, err := e.Dependents(ctx)
	if err != nil {
		return Eligibility{}, fmt.Errorf("inspect dependents: %w", err)
	}

	result := Eligibility{
		ElapsedMinutes: elapsed,
		Dependents:     deps,
	}

	if elapsed > window {
		result.Reasons = append(result.Reasons, WindowReason(elapsed, window))
	}
	if len(deps) > 0 {
		result.Reasons = append(result.Reasons, DependentsReason(deps))
	}
	if e.IsDeleted() {
		result.Reasons = append(result.Reasons, ReasonAlreadyDeleted)
	}
	if in.HasPending {
		result.Reasons = append(result.Reasons, ReasonAlreadyPending)
	}

	result.OK = len(result.Reasons) == 0
	return result, nil
}

// 固定原因文本
const (
	ReasonAlreadyDeleted = "Entity is already deleted"
	ReasonAlreadyPending = "Entity already has a pending retrieval request"
)

// WindowReason 时间窗口未通过的原因文本
func WindowReason(elapsedMinutes, windowMinutes int) string {
	return fmt.Sprintf("Outside time window: %d minutes elapsed (limit: %d minutes)",
		elapsedMinutes, windowMinutes)
}

// DependentsReason 依赖阻塞的原因文本，携带完整依赖清单
func DependentsReason(deps []Dependent) string {
	parts := make([]string, 0, len(deps))
	for _, d := range deps {
		parts = append(parts, d.String())
	}
	return "Has dependent records: " + strings.Join(parts, ", ")
}
