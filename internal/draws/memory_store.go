package draws

import (
	"context"
	"sort"
	"sync"

	"DrawSight/pkg/plugin"
)

// MemoryStore 以内存方式保存开奖记录，适用于测试与演示。
type MemoryStore struct {
	mu    sync.RWMutex
	draws map[string]map[int64]plugin.DrawRecord
}

// NewMemoryStore 创建一个空的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{draws: make(map[string]map[int64]plugin.DrawRecord)}
}

// Import 写入记录，相同 (lottery_type, id) 的记录会被覆盖。
func (m *MemoryStore) Import(ctx context.Context, records []plugin.DrawRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, r := range records {
		if err := validateRecord(r); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		byID, ok := m.draws[r.LotteryType]
		if !ok {
			byID = make(map[int64]plugin.DrawRecord)
			m.draws[r.LotteryType] = byID
		}
		stored := cloneRecord(r)
		stored.Date = normalizeDate(r.Date)
		byID[r.ID] = stored
	}
	return len(records), nil
}

// FetchHistorical 实现 Source 接口。
func (m *MemoryStore) FetchHistorical(ctx context.Context, lotteryType string, windowDays int) ([]plugin.DrawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := m.sorted(lotteryType)
	if len(all) == 0 || windowDays <= 0 {
		return all, nil
	}
	start := windowStart(all[len(all)-1].Date, windowDays)
	idx := sort.Search(len(all), func(i int) bool { return !all[i].Date.Before(start) })
	return all[idx:], nil
}

// Latest 返回日期最新的一期。
func (m *MemoryStore) Latest(ctx context.Context, lotteryType string) (plugin.DrawRecord, error) {
	if err := ctx.Err(); err != nil {
		return plugin.DrawRecord{}, err
	}
	all := m.sorted(lotteryType)
	if len(all) == 0 {
		return plugin.DrawRecord{}, ErrNoDraws
	}
	return all[len(all)-1], nil
}

// Statistics 汇总彩种的数据规模。
func (m *MemoryStore) Statistics(ctx context.Context, lotteryType string) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}
	all := m.sorted(lotteryType)
	stats := Statistics{LotteryType: lotteryType, Total: len(all)}
	if len(all) == 0 {
		return stats, nil
	}
	stats.FirstDrawDate = all[0].Date
	stats.LastDrawDate = all[len(all)-1].Date
	var sum float64
	var n int
	for _, r := range all {
		if r.Jackpot != nil {
			sum += *r.Jackpot
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		stats.AverageJackpot = &avg
	}
	return stats, nil
}

// LotteryTypes 返回已有数据的彩种，按名称排序。
func (m *MemoryStore) LotteryTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]string, 0, len(m.draws))
	for lt, byID := range m.draws {
		if len(byID) > 0 {
			out = append(out, lt)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) sorted(lotteryType string) []plugin.DrawRecord {
	m.mu.RLock()
	byID := m.draws[lotteryType]
	out := make([]plugin.DrawRecord, 0, len(byID))
	for _, r := range byID {
		out = append(out, cloneRecord(r))
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out
}

var _ Store = (*MemoryStore)(nil)
