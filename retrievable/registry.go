package retrievable

import (
	"context"
	"fmt"
	"sync"

	"chehui/errors"
)

// Provider 按 ID 装载某一类型的可撤回实体。
// 由各业务模块在注册能力契约时一并提供，典型实现委托给该类型的仓储。
type Provider interface {
	// Load 装载实体；不存在时返回 NOT_FOUND 错误
	Load(ctx context.Context, id int64) (IRetrievable, error)
}

// ProviderFunc 函数式 Provider 适配器
type ProviderFunc func(ctx context.Context, id int64) (IRetrievable, error)

func (f ProviderFunc) Load(ctx context.Context, id int64) (IRetrievable, error) {
	return f(ctx, id)
}

// Registry 实体类型注册表。
// 维护 类型标签 → Provider 的映射，引擎在运行时据此解析 EntityRef。
// 未注册的类型对外表现为"不可撤回"（CAPABILITY_ERROR）。
type Registry struct {
	providers map[string]Provider
	mutex     sync.RWMutex
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register 注册实体类型的撤回能力
func (r *Registry) Register(entityType string, provider Provider) error {
	if entityType == "" {
		return fmt.Errorf("entity type cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil for type %s", entityType)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.providers[entityType]; exists {
		return fmt.Errorf("entity type already registered: %s", entityType)
	}
	r.providers[entityType] = provider
	return nil
}

// MustRegister 注册实体类型（失败 panic，用于启动期装配）
func (r *Registry) MustRegister(entityType string, provider Provider) {
	if err := r.Register(entityType, provider); err != nil {
		panic(err)
	}
}

// IsRegistered 判断类型是否已注册
func (r *Registry) IsRegistered(entityType string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.providers[entityType]
	return ok
}

// Types 返回全部已注册的类型标签
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}

// Resolve 按引用解析实体。
// 类型未注册返回 CAPABILITY_ERROR；实体不存在由 Provider 返回 NOT_FOUND。
func (r *Registry) Resolve(ctx context.Context, ref EntityRef) (IRetrievable, error) {
	r.mutex.RLock()
	provider, ok := r.providers[ref.Type]
	r.mutex.RUnlock()

	if !ok {
		return nil, errors.NewCapabilityError(ref.Type)
	}
	return provider.Load(ctx, ref.ID)
}
