package trades

import (
	"encoding/json"
	"sort"

	"gopherdex.com/internal/exchange"
)

// PendingSet 还在回滚窗口内的成交，按 revertKey 分组，组内按 trade id 去重。
// 序列化成 map[revertKey][]Trade，组内按 (timestamp, eventIndex) 排序保证稳定。
type PendingSet map[string]map[string]*exchange.Trade

// Add 把 trade 放进它的 revertKey 分组。同 id 已存在时保留旧值
// （旧值可能已带 revertId，不能被新到的同 id 事件覆盖掉）。
func (p PendingSet) Add(t *exchange.Trade) bool {
	group, ok := p[t.RevertKey]
	if !ok {
		group = make(map[string]*exchange.Trade)
		p[t.RevertKey] = group
	}
	if _, exists := group[t.ID]; exists {
		return false
	}
	group[t.ID] = t
	return true
}

// Has 是否已包含该 trade id（任意分组）
func (p PendingSet) Has(id string) bool {
	for _, group := range p {
		if _, ok := group[id]; ok {
			return true
		}
	}
	return false
}

// TradeCount 所有分组的 trade 总数
func (p PendingSet) TradeCount() int {
	n := 0
	for _, group := range p {
		n += len(group)
	}
	return n
}

// Clone 深拷贝：trade 结构体也复制一份，调用方可以放心改写副本
// 而不影响原状态（对账失败时旧状态必须原样保留）。
func (p PendingSet) Clone() PendingSet {
	out := make(PendingSet, len(p))
	for key, group := range p {
		ng := make(map[string]*exchange.Trade, len(group))
		for id, t := range group {
			cp := *t
			ng[id] = &cp
		}
		out[key] = ng
	}
	return out
}

func (p PendingSet) MarshalJSON() ([]byte, error) {
	out := make(map[string][]*exchange.Trade, len(p))
	for key, group := range p {
		out[key] = sortedGroup(group)
	}
	return json.Marshal(out)
}

func (p *PendingSet) UnmarshalJSON(data []byte) error {
	var in map[string][]*exchange.Trade
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(PendingSet, len(in))
	for key, list := range in {
		group := make(map[string]*exchange.Trade, len(list))
		for _, t := range list {
			group[t.ID] = t
		}
		out[key] = group
	}
	*p = out
	return nil
}

func sortedGroup(group map[string]*exchange.Trade) []*exchange.Trade {
	list := make([]*exchange.Trade, 0, len(group))
	for _, t := range group {
		list = append(list, t)
	}
	sortByTimeAndPosition(list)
	return list
}

// sortByTimeAndPosition 时间相同说明在同一个区块，再按事件序号排
func sortByTimeAndPosition(list []*exchange.Trade) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		if list[i].EventIndex != list[j].EventIndex {
			return list[i].EventIndex < list[j].EventIndex
		}
		return list[i].ID < list[j].ID
	})
}
