package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// JSON 没有任意精度数字类型，大整数和价格分数一律按字符串落盘，
// 反序列化时按字段名还原：limitPrice/fillPrice -> decimal，
// buyAmount/sellAmount/orderBuyAmount/orderSellAmount/remainingAmount -> big.Int。

type tradeJSON struct {
	ID                string      `json:"id"`
	OrderID           string      `json:"orderId"`
	SellTokenID       uint16      `json:"sellTokenId"`
	BuyTokenID        uint16      `json:"buyTokenId"`
	SellAmount        string      `json:"sellAmount"`
	BuyAmount         string      `json:"buyAmount"`
	TxHash            common.Hash `json:"txHash"`
	TxIndex           uint        `json:"txIndex"`
	BlockNumber       uint64      `json:"blockNumber"`
	EventIndex        uint        `json:"eventIndex"`
	BatchID           int64       `json:"batchId"`
	Timestamp         int64       `json:"timestamp"`
	SettlingTimestamp int64       `json:"settlingTimestamp"`
	RevertKey         string      `json:"revertKey"`
	BuyToken          *TokenInfo  `json:"buyToken,omitempty"`
	SellToken         *TokenInfo  `json:"sellToken,omitempty"`
	LimitPrice        string      `json:"limitPrice,omitempty"`
	FillPrice         string      `json:"fillPrice"`
	OrderBuyAmount    string      `json:"orderBuyAmount,omitempty"`
	OrderSellAmount   string      `json:"orderSellAmount,omitempty"`
	RemainingAmount   string      `json:"remainingAmount,omitempty"`
	RevertID          string      `json:"revertId,omitempty"`
	RevertTimestamp   int64       `json:"revertTimestamp,omitempty"`
}

func (t *Trade) MarshalJSON() ([]byte, error) {
	out := tradeJSON{
		ID:                t.ID,
		OrderID:           t.OrderID,
		SellTokenID:       t.SellTokenID,
		BuyTokenID:        t.BuyTokenID,
		SellAmount:        bigString(t.SellAmount),
		BuyAmount:         bigString(t.BuyAmount),
		TxHash:            t.TxHash,
		TxIndex:           t.TxIndex,
		BlockNumber:       t.BlockNumber,
		EventIndex:        t.EventIndex,
		BatchID:           t.BatchID,
		Timestamp:         t.Timestamp,
		SettlingTimestamp: t.SettlingTimestamp,
		RevertKey:         t.RevertKey,
		BuyToken:          t.BuyToken,
		SellToken:         t.SellToken,
		FillPrice:         t.FillPrice.String(),
		OrderBuyAmount:    bigString(t.OrderBuyAmount),
		OrderSellAmount:   bigString(t.OrderSellAmount),
		RemainingAmount:   bigString(t.RemainingAmount),
		RevertID:          t.RevertID,
		RevertTimestamp:   t.RevertTimestamp,
	}
	if t.LimitPrice != nil {
		out.LimitPrice = t.LimitPrice.String()
	}
	return json.Marshal(out)
}

func (t *Trade) UnmarshalJSON(data []byte) error {
	var in tradeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var err error
	if t.SellAmount, err = parseBig("sellAmount", in.SellAmount); err != nil {
		return err
	}
	if t.BuyAmount, err = parseBig("buyAmount", in.BuyAmount); err != nil {
		return err
	}
	if t.OrderBuyAmount, err = parseOptionalBig("orderBuyAmount", in.OrderBuyAmount); err != nil {
		return err
	}
	if t.OrderSellAmount, err = parseOptionalBig("orderSellAmount", in.OrderSellAmount); err != nil {
		return err
	}
	if t.RemainingAmount, err = parseOptionalBig("remainingAmount", in.RemainingAmount); err != nil {
		return err
	}
	if in.LimitPrice != "" {
		p, err := decimal.NewFromString(in.LimitPrice)
		if err != nil {
			return fmt.Errorf("trade %s: bad limitPrice %q: %w", in.ID, in.LimitPrice, err)
		}
		t.LimitPrice = &p
	}
	if in.FillPrice != "" {
		if t.FillPrice, err = decimal.NewFromString(in.FillPrice); err != nil {
			return fmt.Errorf("trade %s: bad fillPrice %q: %w", in.ID, in.FillPrice, err)
		}
	}

	t.ID = in.ID
	t.OrderID = in.OrderID
	t.SellTokenID = in.SellTokenID
	t.BuyTokenID = in.BuyTokenID
	t.TxHash = in.TxHash
	t.TxIndex = in.TxIndex
	t.BlockNumber = in.BlockNumber
	t.EventIndex = in.EventIndex
	t.BatchID = in.BatchID
	t.Timestamp = in.Timestamp
	t.SettlingTimestamp = in.SettlingTimestamp
	t.RevertKey = in.RevertKey
	t.BuyToken = in.BuyToken
	t.SellToken = in.SellToken
	t.RevertID = in.RevertID
	t.RevertTimestamp = in.RevertTimestamp
	return nil
}

func bigString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing required numeric field %s", field)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad %s value %q", field, s)
	}
	return n, nil
}

func parseOptionalBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(field, s)
}
