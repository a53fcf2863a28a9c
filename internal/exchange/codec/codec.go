// Package codec 实现 getEncodedUserOrders 返回值的定长二进制编解码。
//
// 每条记录 112 字节、无分隔符、big-endian，布局：
//
//	address(20) sellTokenBalance(32) buyTokenId(2) sellTokenId(2)
//	validFrom(4) validUntil(4) priceNumerator(16) priceDenominator(16)
//	remainingAmount(16)
//
// 订单 id 不在编码数据里，由记录位置决定。
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/xerr"
)

const (
	addressWidth = 20
	uint256Width = 32
	uint16Width  = 2
	uint32Width  = 4
	uint128Width = 16

	// RecordWidth 一条完整订单记录的字节数
	RecordWidth = addressWidth + uint256Width + uint16Width*2 + uint32Width*2 + uint128Width*3
)

// DecodeAuctionElements 解码一段 hex 编码的订单数据，id 从 0 开始编号。
//
// 长度不是 RecordWidth 整数倍时返回 DecodeError（严格策略：截断的 RPC
// 响应应当暴露出来，而不是悄悄丢掉尾部的半条记录）。空串 / "0x" 返回空。
func DecodeAuctionElements(hexData string) ([]exchange.AuctionElement, error) {
	return DecodeAuctionElementsOffset(hexData, 0)
}

// DecodeAuctionElementsOffset 同上，id 从 startIndex 开始编号。
// 分页读取时第 N 页接着第 N-1 页的编号继续。
func DecodeAuctionElementsOffset(hexData string, startIndex int) ([]exchange.AuctionElement, error) {
	hexData = strings.TrimPrefix(hexData, "0x")
	if hexData == "" {
		return nil, nil
	}

	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, xerr.Newf(xerr.DecodeError, "orders blob is not valid hex: %v", err)
	}
	if len(raw)%RecordWidth != 0 {
		return nil, xerr.Newf(xerr.DecodeError,
			"orders blob length %d is not a multiple of record width %d (%d complete records)",
			len(raw), RecordWidth, len(raw)/RecordWidth)
	}

	elements := make([]exchange.AuctionElement, 0, len(raw)/RecordWidth)
	for off := 0; off < len(raw); off += RecordWidth {
		r := reader{buf: raw[off : off+RecordWidth]}

		var elem exchange.AuctionElement
		elem.User = common.BytesToAddress(r.next(addressWidth))
		elem.SellTokenBalance = new(big.Int).SetBytes(r.next(uint256Width))
		elem.BuyTokenID = binary.BigEndian.Uint16(r.next(uint16Width))
		elem.SellTokenID = binary.BigEndian.Uint16(r.next(uint16Width))
		elem.ValidFrom = binary.BigEndian.Uint32(r.next(uint32Width))
		elem.ValidUntil = binary.BigEndian.Uint32(r.next(uint32Width))
		elem.PriceNumerator = new(big.Int).SetBytes(r.next(uint128Width))
		elem.PriceDenominator = new(big.Int).SetBytes(r.next(uint128Width))
		elem.RemainingAmount = new(big.Int).SetBytes(r.next(uint128Width))
		elem.ID = strconv.Itoa(startIndex + off/RecordWidth)

		elements = append(elements, elem)
	}
	return elements, nil
}

// EncodeAuctionElements 逆操作，测试与 fixture 用。id 不参与编码。
func EncodeAuctionElements(elements []exchange.AuctionElement) string {
	buf := make([]byte, 0, len(elements)*RecordWidth)
	for i := range elements {
		e := &elements[i]
		buf = append(buf, e.User.Bytes()...)
		buf = appendBig(buf, e.SellTokenBalance, uint256Width)
		buf = binary.BigEndian.AppendUint16(buf, e.BuyTokenID)
		buf = binary.BigEndian.AppendUint16(buf, e.SellTokenID)
		buf = binary.BigEndian.AppendUint32(buf, e.ValidFrom)
		buf = binary.BigEndian.AppendUint32(buf, e.ValidUntil)
		buf = appendBig(buf, e.PriceNumerator, uint128Width)
		buf = appendBig(buf, e.PriceDenominator, uint128Width)
		buf = appendBig(buf, e.RemainingAmount, uint128Width)
	}
	return "0x" + hex.EncodeToString(buf)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) next(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func appendBig(buf []byte, n *big.Int, width int) []byte {
	field := make([]byte, width)
	if n != nil {
		n.FillBytes(field)
	}
	return append(buf, field...)
}
