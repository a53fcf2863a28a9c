package exchange

import "time"

// BatchDuration 一个撮合批次的时长。合约每 300 秒结算一批。
const BatchDuration = 300

// PendingBatchWindow 回滚窗口：当前批次和之前两个批次内的成交仍可能被回滚。
const PendingBatchWindow = 2

// BatchIDFromTime 时间 -> 批次号: floor(unix / 300)
func BatchIDFromTime(ts int64) int64 {
	return ts / BatchDuration
}

// BatchIDNow 当前批次号
func BatchIDNow() int64 {
	return BatchIDFromTime(time.Now().Unix())
}

// BatchStartTime 批次起始时间 (unix 秒)
func BatchStartTime(batchID int64) int64 {
	return batchID * BatchDuration
}

// SettlingTime 批次的结算完成时间：解可以在下一个批次内提交，
// 所以到 batchID+1 批次结束（即 batchID+2 的起点）才算落定。
func SettlingTime(batchID int64) int64 {
	return BatchStartTime(batchID + 2)
}

// InPendingWindow batchID 是否还在 [current-2, current] 的回滚窗口内
func InPendingWindow(batchID, currentBatchID int64) bool {
	return batchID >= currentBatchID-PendingBatchWindow && batchID <= currentBatchID
}
