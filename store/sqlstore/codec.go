package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chehui/retrievable"
)

// timeFormat 时间戳的存储格式（UTC 文本）。
// 小数秒固定九位宽度：区间查询与排序直接在文本列上做，
// 定宽编码保证字典序与时间序一致（RFC3339Nano 会裁掉末尾零，
// 变长小数会让 "…00.5Z" 排在 "…00Z" 之前）。
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeDependents(deps []retrievable.Dependent) (any, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return nil, fmt.Errorf("encode dependencies: %w", err)
	}
	return string(data), nil
}

func decodeDependents(s sql.NullString) ([]retrievable.Dependent, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var deps []retrievable.Dependent
	if err := json.Unmarshal([]byte(s.String), &deps); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	return deps, nil
}

func encodeSnapshot(s retrievable.Snapshot) (any, error) {
	if s == nil {
		return nil, nil
	}
	data, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeSnapshot(s sql.NullString) (retrievable.Snapshot, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	return retrievable.DecodeSnapshot([]byte(s.String))
}
