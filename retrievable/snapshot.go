package retrievable

import (
	"encoding/json"
	"fmt"
)

// Snapshot 实体某一时刻的字段级快照。
// 扁平的 字段名 → JSON 安全值 映射，在请求提交时捕获一次，之后不可变。
type Snapshot map[string]any

// refMarker ref 捕获的类型标记值
const refMarker = "ref"

// RefValue 关系字段的快照捕获形式。
// 关系字段不展开引用，只记录目标类型、目标 ID 和展示文本。
func RefValue(targetType string, targetID int64, display string) map[string]any {
	return map[string]any{
		"type":       refMarker,
		"targetType": targetType,
		"targetId":   targetID,
		"display":    display,
	}
}

// IsRef 判断快照值是否为关系字段的 ref 捕获。
// 兼容 JSON 往返后的 map[string]any 形式（targetId 变为 float64）。
func IsRef(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	t, ok := m["type"].(string)
	if !ok || t != refMarker {
		return false
	}
	_, hasTarget := m["targetType"]
	return hasTarget
}

// RestoreFields 遍历快照中的非关系字段并逐个调用 apply。
// 关系字段（ref 捕获）被跳过：关系恢复不在撤回范围内。
func RestoreFields(snapshot Snapshot, apply func(field string, value any)) {
	for field, value := range snapshot {
		if IsRef(value) {
			continue
		}
		apply(field, value)
	}
}

// Encode 将快照序列化为 JSON 字节串（用于持久化）
func (s Snapshot) Encode() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot 从 JSON 字节串还原快照
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Clone 返回快照的浅拷贝（值本身要求是 JSON 安全的不可变形式）
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
