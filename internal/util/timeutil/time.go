// Package timeutil 提供时间相关的工具函数。
// 主要用于获取高精度时间戳（内部延迟测量）和解析行情帧的 ISO-8601 时间。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合实现：
// NowNano = baseUnixNs + time.Since(baseTime).Nanoseconds()
// 这样在系统时间跳变（NTP/手动调整）时也能保持时间差的单调性，
// 避免污染 internal_latency 与更新频率统计。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMicro 获取当前时间的微秒时间戳
// SimulationResult.InternalLatencyUs 以微秒计。
func NowMicro() int64 {
	return NowNano() / 1_000
}

// NowMs 获取当前时间的毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// NanoToTime 将纳秒时间戳转换为 time.Time
func NanoToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}

// DurationMs 计算两个纳秒时间戳之间的毫秒差
// 返回浮点数以保留亚毫秒精度。
func DurationMs(startNs, endNs int64) float64 {
	return float64(endNs-startNs) / 1_000_000.0
}

// isoLayouts 行情帧时间戳的候选格式
// 交易所时间格式为 ISO-8601，Z 后缀，小数秒可选。
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseISOTimestamp 解析 ISO-8601 时间戳
// 依次尝试候选格式；全部失败时返回当前壁钟时间。解析失败不应
// 阻断订单簿更新，时间质量以 local_timestamp 为准。
func ParseISOTimestamp(s string) time.Time {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}

// TimeOfDayFraction 计算一天内的时间占比
// 返回 [0, 1)：本地时区的当日已过秒数 / 86400。
// 用作分位数滑点模型的 time_of_day 特征。
func TimeOfDayFraction(t time.Time) float64 {
	local := t.Local()
	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return float64(secs) / 86400.0
}
