package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Ledger.
type Memory struct {
	mu     sync.RWMutex
	trades []TradeRecord
	orders []OrderRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AppendTrade(_ context.Context, record TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, record)
	return nil
}

func (m *Memory) AppendOrder(_ context.Context, record OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, record)
	return nil
}

func (m *Memory) LastTrades(_ context.Context, pair string, n int) ([]TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []TradeRecord
	for _, record := range m.trades {
		if record.Pair == pair {
			matched = append(matched, record)
		}
	}
	// stable keeps later appends first among equal timestamps after the reverse
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	result := make([]TradeRecord, 0, n)
	for i := len(matched) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, matched[i])
	}
	return result, nil
}

func (m *Memory) LastOrder(_ context.Context, pair, orderType string) (*OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *OrderRecord
	for i := range m.orders {
		record := m.orders[i]
		if record.Pair != pair || record.Type != orderType {
			continue
		}
		if last == nil || !record.Timestamp.Before(last.Timestamp) {
			copy := record
			last = &copy
		}
	}
	return last, nil
}

// Trades returns every trade record in append order.
func (m *Memory) Trades() []TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TradeRecord(nil), m.trades...)
}

// Orders returns every order record in append order.
func (m *Memory) Orders() []OrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OrderRecord(nil), m.orders...)
}
