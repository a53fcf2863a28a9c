package enrich

import "gopherdex.com/internal/exchange"

// ResolutionKind 订单解析结果的三种形态。
// 查单是个三级瀑布：本地已知 -> 合约现状 -> 下单事件重建，
// 都失败也不致命，只是少了 limitPrice / remainingAmount。
type ResolutionKind int

const (
	// ResolutionFound 本地或合约上直接拿到了订单
	ResolutionFound ResolutionKind = iota
	// ResolutionReconstructed 订单已被删除，从 OrderPlacement 事件重建
	ResolutionReconstructed
	// ResolutionUnresolved 三条路都没找到
	ResolutionUnresolved
)

// OrderResolution 显式的 tagged result，Kind 为 Unresolved 时 Order 为 nil。
type OrderResolution struct {
	Kind  ResolutionKind
	Order *exchange.Order
}

func found(o *exchange.Order) OrderResolution {
	return OrderResolution{Kind: ResolutionFound, Order: o}
}

func reconstructed(o *exchange.Order) OrderResolution {
	return OrderResolution{Kind: ResolutionReconstructed, Order: o}
}

func unresolved() OrderResolution {
	return OrderResolution{Kind: ResolutionUnresolved}
}
