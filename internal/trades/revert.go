package trades

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
	"gopherdex.com/pkg/xerr"
)

// ApplyReverts 把一批新到的成交和回滚事件对账，产出合并后的成交列表和
// 下一轮的 pending 集合。
//
// 匹配前提：
//  1. 同一个 batch/order 组合可能有多笔成交（当前 solver 不会这么出解，
//     但合约不禁止）
//  2. 一个 revertKey 下 revert 数量不会超过成交数量，超过即数据源异常
//  3. 每个 revert 恰好对应一笔成交
//  4. 按出现顺序配对：第一个 revert 配第一笔成交，依此类推
//
// prior 里的 trade 会被克隆后参与本轮匹配，出错时调用方持有的旧状态不受影响。
// 没有任何成交可配的 revert 不算错误：对应的成交可能还没被索引出来，
// 留给之后的轮次（或随窗口一起过期）。
func ApplyReverts(
	ctx context.Context,
	incoming []*exchange.Trade,
	reverts []*exchange.TradeReversion,
	prior PendingSet,
	currentBatch int64,
) ([]*exchange.Trade, PendingSet, error) {
	groups := prior.Clone()
	if groups == nil {
		groups = make(PendingSet)
	}

	for _, t := range incoming {
		if groups.Has(t.ID) {
			continue // 重复事件直接忽略，重放必须幂等
		}
		groups.Add(t)
	}

	revertsByKey := groupReverts(reverts)

	matched := 0
	for key, keyReverts := range revertsByKey {
		group, ok := groups[key]
		if !ok {
			logger.Debug(ctx, "revert has no matching trade group yet",
				zap.String("revert_key", key),
				zap.Int("reverts", len(keyReverts)))
			continue
		}

		keyTrades := sortedGroup(group)

		ti, ri := 0, 0
		for ti < len(keyTrades) && ri < len(keyReverts) {
			t, r := keyTrades[ti], keyReverts[ri]
			switch {
			case t.RevertID == "":
				// 未回滚的成交配当前 revert，两边前进
				t.RevertID = r.ID
				t.RevertTimestamp = r.Timestamp
				matched++
				logger.Debug(ctx, "trade matched to revert",
					zap.String("revert_key", key),
					zap.String("trade_id", t.ID),
					zap.String("revert_id", r.ID))
				ti++
				ri++
			case t.RevertID == r.ID:
				// 之前轮次已配过同一个 revert，重放，两边前进
				ti++
				ri++
			default:
				// 被别的 revert 占了，只动成交游标
				ti++
			}
		}
		// 成交用完还剩 revert：数据源有 bug，整个对账轮次作废
		if ri < len(keyReverts) {
			return nil, nil, xerr.Newf(xerr.ConsistencyError,
				"revert key %s: %d reverts not matched to trades", key, len(keyReverts)-ri)
		}
	}

	if matched > 0 {
		logger.Info(ctx, "reverts applied",
			zap.Int("matched", matched),
			zap.Int("trades", groups.TradeCount()))
	}

	return flatten(groups), nextPending(groups, currentBatch), nil
}

// groupReverts 按 revertKey 分组，组内去重并按 (timestamp, eventIndex) 排序
func groupReverts(reverts []*exchange.TradeReversion) map[string][]*exchange.TradeReversion {
	byKey := make(map[string][]*exchange.TradeReversion)
	seen := make(map[string]struct{}, len(reverts))

	for _, r := range reverts {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		key := r.Key()
		byKey[key] = append(byKey[key], r)
	}

	for _, list := range byKey {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Timestamp != list[j].Timestamp {
				return list[i].Timestamp < list[j].Timestamp
			}
			return list[i].EventIndex < list[j].EventIndex
		})
	}
	return byKey
}

// nextPending 窗口内 ([current-2, current]) 的分组整组保留，其余视为落定。
func nextPending(groups PendingSet, currentBatch int64) PendingSet {
	pending := make(PendingSet)
	for key, group := range groups {
		for _, t := range group {
			if exchange.InPendingWindow(t.BatchID, currentBatch) {
				pending[key] = group
			}
			break // batch id 对组内所有成交相同，看一个就够
		}
	}
	return pending
}

func flatten(groups PendingSet) []*exchange.Trade {
	out := make([]*exchange.Trade, 0, groups.TradeCount())
	for _, group := range groups {
		for _, t := range group {
			out = append(out, t)
		}
	}
	sortByTimeAndPosition(out)
	return out
}
