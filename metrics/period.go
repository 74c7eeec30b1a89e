// Package metrics 从撤回请求历史汇总操作者准确率指标。
package metrics

import (
	"fmt"
	"time"
)

// PeriodType 统计周期类型
type PeriodType string

const (
	// PeriodDay 自然日
	PeriodDay PeriodType = "DAY"

	// PeriodWeek ISO 周（周一为起点）
	PeriodWeek PeriodType = "WEEK"

	// PeriodMonth 自然月
	PeriodMonth PeriodType = "MONTH"

	// PeriodQuarter 自然季度
	PeriodQuarter PeriodType = "QUARTER"

	// PeriodYear 自然年
	PeriodYear PeriodType = "YEAR"
)

// IsValid 判断是否为合法周期类型
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return true
	}
	return false
}

// Range 返回包含参考时刻的周期区间 [start, end)。
// end 是下一周期的起点（半开区间），时区沿用参考时刻的时区。
func (p PeriodType) Range(ref time.Time) (start, end time.Time, err error) {
	loc := ref.Location()
	switch p {
	case PeriodDay:
		start = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case PeriodWeek:
		day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
		// 周一为一周起点，周日回退 6 天
		offset := int(day.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case PeriodMonth:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case PeriodQuarter:
		quarterStart := time.Month((int(ref.Month())-1)/3*3 + 1)
		start = time.Date(ref.Year(), quarterStart, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 3, 0)
	case PeriodYear:
		start = time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period type: %s", p)
	}
	return start, end, nil
}
