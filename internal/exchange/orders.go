package exchange

import "math/big"

var oneHundred = big.NewInt(100)

// IsOrderDeleted 合约删除订单后，读回来的是一条全零记录。
func IsOrderDeleted(o *Order) bool {
	return o.BuyTokenID == 0 &&
		o.SellTokenID == 0 &&
		o.ValidFrom == 0 &&
		o.ValidUntil == 0 &&
		isZero(o.PriceNumerator) &&
		isZero(o.PriceDenominator) &&
		isZero(o.RemainingAmount)
}

// IsOrderActive validUntil 批次结束之前订单有效
func IsOrderActive(o *Order, now int64) bool {
	return BatchStartTime(int64(o.ValidUntil)+1) >= now
}

// IsOrderFilled 成交 99% 以上即视为完全成交
func IsOrderFilled(o *Order) bool {
	if o.PriceDenominator == nil || o.RemainingAmount == nil {
		return false
	}
	onePercent := new(big.Int).Div(o.PriceDenominator, oneHundred)
	return o.RemainingAmount.Cmp(onePercent) < 0
}

func isZero(n *big.Int) bool {
	return n == nil || n.Sign() == 0
}
