package retrievable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRefValue_IsRef 测试关系字段捕获与识别
func TestRefValue_IsRef(t *testing.T) {
	ref := RefValue("department", 42, "研发部")

	assert.True(t, IsRef(ref))
	assert.Equal(t, "ref", ref["type"])
	assert.Equal(t, "department", ref["targetType"])
	assert.Equal(t, int64(42), ref["targetId"])
	assert.Equal(t, "研发部", ref["display"])

	// 普通值不应被识别为 ref
	assert.False(t, IsRef("plain string"))
	assert.False(t, IsRef(42))
	assert.False(t, IsRef(nil))
	assert.False(t, IsRef(map[string]any{"type": "other"}))
	// type 为 "ref" 但缺少 targetType 的 map 不算 ref 捕获
	assert.False(t, IsRef(map[string]any{"type": "ref"}))
}

// TestSnapshot_EncodeDecode 测试快照 JSON 往返
func TestSnapshot_EncodeDecode(t *testing.T) {
	original := Snapshot{
		"name":   "张三",
		"amount": 128.5,
		"active": true,
		"dept":   RefValue("department", 7, "财务部"),
	}

	data, err := original.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	// 非关系字段逐一还原
	assert.Equal(t, "张三", decoded["name"])
	assert.Equal(t, 128.5, decoded["amount"])
	assert.Equal(t, true, decoded["active"])

	// JSON 往返后的 ref 捕获仍可识别（targetId 变为 float64）
	assert.True(t, IsRef(decoded["dept"]))
}

// TestDecodeSnapshot_Empty 测试空快照处理
func TestDecodeSnapshot_Empty(t *testing.T) {
	s, err := DecodeSnapshot(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = DecodeSnapshot([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

// TestRestoreFields_SkipsRefs 测试恢复时跳过关系字段。
// 这是撤回引擎的已知边界：EDIT 撤回无法还原改过的外键。
func TestRestoreFields_SkipsRefs(t *testing.T) {
	snapshot := Snapshot{
		"title":  "原始标题",
		"status": "draft",
		"owner":  RefValue("user", 3, "李四"),
	}

	applied := make(map[string]any)
	RestoreFields(snapshot, func(field string, value any) {
		applied[field] = value
	})

	assert.Equal(t, "原始标题", applied["title"])
	assert.Equal(t, "draft", applied["status"])
	_, hasOwner := applied["owner"]
	assert.False(t, hasOwner, "关系字段不应参与恢复")
}

// TestRestoreFields_AfterJSONRoundTrip 测试 JSON 往返后的快照恢复仍跳过关系字段
func TestRestoreFields_AfterJSONRoundTrip(t *testing.T) {
	original := Snapshot{
		"title": "t",
		"dept":  RefValue("department", 9, "d"),
	}
	data, err := original.Encode()
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	applied := make(map[string]any)
	RestoreFields(decoded, func(field string, value any) {
		applied[field] = value
	})

	assert.Len(t, applied, 1)
	assert.Equal(t, "t", applied["title"])
}

// TestSnapshot_Clone 测试快照拷贝独立性
func TestSnapshot_Clone(t *testing.T) {
	original := Snapshot{"a": 1}
	clone := original.Clone()
	clone["a"] = 2

	assert.Equal(t, 1, original["a"])
	assert.Nil(t, Snapshot(nil).Clone())
}
