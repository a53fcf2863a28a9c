// Package client 交易所合约的只读封装：订单读取、历史事件检索、代币元数据。
package client

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"gopherdex.com/internal/enrich"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/internal/exchange/codec"
	"gopherdex.com/pkg/logger"
)

// 合约 ABI 只保留我们用到的切片
const exchangeABI = `[
	{"type":"function","name":"getEncodedUserOrdersPaginated","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"offset","type":"uint16"},{"name":"pageSize","type":"uint16"}],"outputs":[{"name":"elements","type":"bytes"}]},
	{"type":"function","name":"orders","stateMutability":"view","inputs":[{"name":"userAddress","type":"address"},{"name":"index","type":"uint16"}],"outputs":[{"name":"buyToken","type":"uint16"},{"name":"sellToken","type":"uint16"},{"name":"validFrom","type":"uint32"},{"name":"validUntil","type":"uint32"},{"name":"priceNumerator","type":"uint128"},{"name":"priceDenominator","type":"uint128"},{"name":"usedAmount","type":"uint128"}]},
	{"type":"function","name":"tokenIdToAddressMap","stateMutability":"view","inputs":[{"name":"id","type":"uint16"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"Trade","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"orderId","type":"uint16","indexed":true},{"name":"sellToken","type":"uint16","indexed":false},{"name":"buyToken","type":"uint16","indexed":false},{"name":"executedSellAmount","type":"uint128","indexed":false},{"name":"executedBuyAmount","type":"uint128","indexed":false}]},
	{"type":"event","name":"TradeReversion","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"orderId","type":"uint16","indexed":true},{"name":"sellToken","type":"uint16","indexed":false},{"name":"buyToken","type":"uint16","indexed":false},{"name":"executedSellAmount","type":"uint128","indexed":false},{"name":"executedBuyAmount","type":"uint128","indexed":false}]},
	{"type":"event","name":"OrderPlacement","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"buyToken","type":"uint16","indexed":true},{"name":"sellToken","type":"uint16","indexed":true},{"name":"index","type":"uint16","indexed":false},{"name":"validFrom","type":"uint32","indexed":false},{"name":"validUntil","type":"uint32","indexed":false},{"name":"priceNumerator","type":"uint128","indexed":false},{"name":"priceDenominator","type":"uint128","indexed":false}]}
]`

const erc20ABI = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// 每页最多拉多少条订单
const ordersPageSize = 50

type Client struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	erc20    abi.ABI
}

// 确保实现 enrich 侧的接口
var (
	_ enrich.ContractReader = (*Client)(nil)
	_ enrich.TokenReader    = (*Client)(nil)
)

func New(nodeURL string, contract common.Address) (*Client, error) {
	eth, err := ethclient.Dial(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth node: %w", err)
	}
	return NewWithClient(eth, contract)
}

func NewWithClient(eth *ethclient.Client, contract common.Address) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABI))
	if err != nil {
		return nil, fmt.Errorf("parse exchange abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Client{eth: eth, contract: contract, abi: parsed, erc20: erc20}, nil
}

// GetOrders 分页拉取用户全部订单。id 跨页连续编号。
func (c *Client) GetOrders(ctx context.Context, userAddress common.Address) ([]exchange.AuctionElement, error) {
	var all []exchange.AuctionElement
	for offset := 0; ; offset += ordersPageSize {
		data, err := c.abi.Pack("getEncodedUserOrdersPaginated",
			userAddress, uint16(offset), uint16(ordersPageSize))
		if err != nil {
			return nil, err
		}
		raw, err := c.call(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("getEncodedUserOrdersPaginated(%d): %w", offset, err)
		}

		var encoded []byte
		if err := c.abi.UnpackIntoInterface(&encoded, "getEncodedUserOrdersPaginated", raw); err != nil {
			return nil, err
		}
		// 合约返回空 bytes 表示没有更多订单
		if len(encoded) == 0 {
			break
		}

		page, err := codec.DecodeAuctionElementsOffset(common.Bytes2Hex(encoded), offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) < ordersPageSize {
			break
		}
	}

	logger.Debug(ctx, "orders fetched",
		zap.String("user", userAddress.Hex()), zap.Int("count", len(all)))
	return all, nil
}

// GetOrder 读取合约当前的单个订单。已删除的订单返回全零记录，
// 由调用方用 IsOrderDeleted 判断。
func (c *Client) GetOrder(ctx context.Context, userAddress common.Address, orderID string) (*exchange.Order, error) {
	index, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	data, err := c.abi.Pack("orders", userAddress, index)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("orders(%s, %d): %w", userAddress.Hex(), index, err)
	}

	out, err := c.abi.Unpack("orders", raw)
	if err != nil {
		return nil, err
	}

	priceDenominator := out[5].(*big.Int)
	usedAmount := out[6].(*big.Int)
	return &exchange.Order{
		BuyTokenID:       out[0].(uint16),
		SellTokenID:      out[1].(uint16),
		ValidFrom:        out[2].(uint32),
		ValidUntil:       out[3].(uint32),
		PriceNumerator:   out[4].(*big.Int),
		PriceDenominator: priceDenominator,
		RemainingAmount:  new(big.Int).Sub(priceDenominator, usedAmount),
	}, nil
}

// EventQuery 历史事件检索范围
type EventQuery struct {
	UserAddress common.Address
	FromBlock   uint64
	ToBlock     uint64 // 0 表示 latest
}

// PastTrades 拉取用户的历史 Trade 事件
func (c *Client) PastTrades(ctx context.Context, q EventQuery) ([]*exchange.TradeEvent, error) {
	return c.pastTradeLike(ctx, "Trade", q)
}

// PastReversions 拉取用户的历史 TradeReversion 事件
func (c *Client) PastReversions(ctx context.Context, q EventQuery) ([]*exchange.TradeEvent, error) {
	return c.pastTradeLike(ctx, "TradeReversion", q)
}

// Trade 和 TradeReversion 的事件字段完全一样，共用一个解析路径
func (c *Client) pastTradeLike(ctx context.Context, event string, q EventQuery) ([]*exchange.TradeEvent, error) {
	ev := c.abi.Events[event]

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		Topics: [][]common.Hash{
			{ev.ID},
			{addressTopic(q.UserAddress)},
		},
	}
	if q.ToBlock > 0 {
		query.ToBlock = new(big.Int).SetUint64(q.ToBlock)
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", event, err)
	}

	events := make([]*exchange.TradeEvent, 0, len(logs))
	for i := range logs {
		parsed, err := c.parseTradeLog(event, &logs[i])
		if err != nil {
			// 单条日志坏了跳过，别的照常处理
			logger.Warn(ctx, "skip unparsable event log",
				zap.String("event", event),
				zap.String("tx", logs[i].TxHash.Hex()),
				zap.Error(err))
			continue
		}
		events = append(events, parsed)
	}
	return events, nil
}

func (c *Client) parseTradeLog(event string, log *types.Log) (*exchange.TradeEvent, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}

	fields, err := c.abi.Unpack(event, log.Data)
	if err != nil {
		return nil, err
	}

	return &exchange.TradeEvent{
		OrderID:     strconv.FormatUint(log.Topics[2].Big().Uint64(), 10),
		SellTokenID: fields[0].(uint16),
		BuyTokenID:  fields[1].(uint16),
		SellAmount:  fields[2].(*big.Int),
		BuyAmount:   fields[3].(*big.Int),
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		BlockNumber: log.BlockNumber,
		EventIndex:  uint(log.Index),
	}, nil
}

// OrderFromPlacement 从 OrderPlacement 事件重建已删除的订单。
// 用 token id 做 topic 过滤、块高做上界来缩小检索范围。
func (c *Client) OrderFromPlacement(ctx context.Context, q enrich.PlacementQuery) (*exchange.Order, error) {
	index, err := parseOrderID(q.OrderID)
	if err != nil {
		return nil, err
	}

	ev := c.abi.Events["OrderPlacement"]
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Topics: [][]common.Hash{
			{ev.ID},
			{addressTopic(q.UserAddress)},
			{uint16Topic(q.BuyTokenID)},
			{uint16Topic(q.SellTokenID)},
		},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter OrderPlacement logs: %w", err)
	}

	for i := range logs {
		fields, err := c.abi.Unpack("OrderPlacement", logs[i].Data)
		if err != nil {
			continue
		}
		if fields[0].(uint16) != index {
			continue
		}

		priceDenominator := fields[4].(*big.Int)
		return &exchange.Order{
			BuyTokenID:       q.BuyTokenID,
			SellTokenID:      q.SellTokenID,
			ValidFrom:        fields[1].(uint32),
			ValidUntil:       fields[2].(uint32),
			PriceNumerator:   fields[3].(*big.Int),
			PriceDenominator: priceDenominator,
			// 原始挂单时什么都没成交
			RemainingAmount: priceDenominator,
		}, nil
	}
	return nil, fmt.Errorf("no OrderPlacement event for order %s up to block %d", q.OrderID, q.ToBlock)
}

// TokenAddressByID 交易所 token id -> ERC20 地址
func (c *Client) TokenAddressByID(ctx context.Context, tokenID uint16) (common.Address, error) {
	data, err := c.abi.Pack("tokenIdToAddressMap", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := c.call(ctx, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("tokenIdToAddressMap(%d): %w", tokenID, err)
	}

	var addr common.Address
	if err := c.abi.UnpackIntoInterface(&addr, "tokenIdToAddressMap", raw); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// TokenDetails ERC20 元数据。symbol/name 读不到用占位符兜底，
// decimals 读不到按 18 处理（老代币不实现 metadata 接口的情况并不少见）。
func (c *Client) TokenDetails(ctx context.Context, tokenAddr common.Address) (string, string, int32, error) {
	symbol := "UNKNOWN"
	var symOut string
	if err := c.callERC20(ctx, tokenAddr, "symbol", &symOut); err == nil {
		symbol = symOut
	}

	name := symbol
	var nameOut string
	if err := c.callERC20(ctx, tokenAddr, "name", &nameOut); err == nil {
		name = nameOut
	}

	decimals := int32(18)
	var decOut uint8
	if err := c.callERC20(ctx, tokenAddr, "decimals", &decOut); err == nil {
		decimals = int32(decOut)
	}

	return symbol, name, decimals, nil
}

// BlockTime 区块时间戳 (unix 秒)
func (c *Client) BlockTime(ctx context.Context, blockNumber uint64) (int64, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", blockNumber, err)
	}
	return int64(header.Time), nil
}

// CurrentBlock 链上最新块高
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// NetworkID 链 id
func (c *Client) NetworkID(ctx context.Context) (int64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

func (c *Client) call(ctx context.Context, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
}

func (c *Client) callERC20(ctx context.Context, addr common.Address, method string, out interface{}) error {
	data, err := c.erc20.Pack(method)
	if err != nil {
		return err
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return err
	}
	return c.erc20.UnpackIntoInterface(out, method, raw)
}

func parseOrderID(orderID string) (uint16, error) {
	index, err := strconv.ParseUint(orderID, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	return uint16(index), nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func uint16Topic(v uint16) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(uint64(v)))
}
