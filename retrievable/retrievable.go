// Package retrievable 定义实体获得撤回能力所需的最小契约。
//
// 设计原则：
//  1. 引擎只依赖接口，从不依赖具体业务实体；
//  2. 实体引用是带类型标签的弱引用（EntityRef），从不使用原生外键/指针；
//  3. 依赖发现采用显式声明的计数器列表，而非运行时反射模式内省。
//
// 已知边界：EDIT 类撤回只恢复标量字段，关系字段在快照中以 ref 形式
// 保留但恢复时被跳过（见 RestoreFields），即改过的外键无法通过撤回还原。
package retrievable

import (
	"context"
	"fmt"
	"time"
)

// IRetrievable 可撤回实体契约。
// 任何希望支持撤回的业务实体都必须实现该接口。
type IRetrievable interface {
	// GetID 返回实体的唯一标识
	GetID() int64

	// GetCreatedAt 返回实体创建时间（时间窗口判定的基准点）
	GetCreatedAt() time.Time

	// IsDeleted 判断实体是否已被软删除
	IsDeleted() bool

	// Snapshot 返回实体全部字段的扁平、JSON 安全快照
	// 关系字段应通过 RefValue 捕获，而非展开引用
	Snapshot() Snapshot

	// Restore 应用撤回：
	//   - snapshot == nil：执行软删除（DELETE/UNDO 类动作）
	//   - snapshot != nil：按字段恢复到快照状态（EDIT/RESTORE 类动作），
	//     关系字段被跳过
	Restore(snapshot Snapshot) error

	// Dependents 枚举计数非零的反向关联
	Dependents(ctx context.Context) ([]Dependent, error)
}

// Dependent 一类依赖记录及其数量
type Dependent struct {
	// Type 依赖记录的类型标签
	Type string `json:"type"`

	// Count 依赖记录数量（只收录 > 0 的项）
	Count int64 `json:"count"`
}

func (d Dependent) String() string {
	return fmt.Sprintf("%s(%d)", d.Type, d.Count)
}

// EntityRef 带类型标签的实体引用。
// 被引用类型是开放集合，因此存储为 (类型标签, 整数 ID)，从不使用原生外键。
type EntityRef struct {
	// Type 实体类型标签（与 Registry 中注册的键一致）
	Type string `json:"entity_type"`

	// ID 实体主键
	ID int64 `json:"entity_id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}

// IsZero 判断引用是否为空
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

// CounterFunc 依赖计数函数：返回某类反向关联的当前记录数
type CounterFunc func(ctx context.Context) (int64, error)

// DependentCounter 一条显式声明的依赖计数器
type DependentCounter struct {
	// Type 依赖记录的类型标签
	Type string

	// Count 计数函数（纯读取，不得有副作用）
	Count CounterFunc
}

// CountDependents 依赖检查器：依次执行声明的计数器，收集计数非零的项。
// 纯读取操作；完整清单始终返回，供操作者查看，不做排序。
// 实体实现 Dependents 时可直接委托给该函数。
func CountDependents(ctx context.Context, counters []DependentCounter) ([]Dependent, error) {
	if len(counters) == 0 {
		return nil, nil
	}

	result := make([]Dependent, 0, len(counters))
	for _, c := range counters {
		n, err := c.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count dependents of type %s: %w", c.Type, err)
		}
		if n > 0 {
			result = append(result, Dependent{Type: c.Type, Count: n})
		}
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}
