package draws

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"DrawSight/pkg/plugin"
)

// Profile 描述一种彩票的选号规则。
type Profile struct {
	Pick      int
	PoolSize  int
	BonusPool int
	Interval  time.Duration
}

// Profiles 是内置的彩种规则。
var Profiles = map[string]Profile{
	"lotto645":    {Pick: 6, PoolSize: 45, BonusPool: 45, Interval: 7 * 24 * time.Hour},
	"super_lotto": {Pick: 5, PoolSize: 35, BonusPool: 12, Interval: 2 * 24 * time.Hour},
	"daily_pick5": {Pick: 5, PoolSize: 39, Interval: 24 * time.Hour},
}

// ProfileFor 返回彩种规则，未知彩种按 lotto645 处理。
func ProfileFor(lotteryType string) Profile {
	if p, ok := Profiles[lotteryType]; ok {
		return p
	}
	return Profiles["lotto645"]
}

// Synthetic 生成 n 期可复现的开奖记录，最后一期的日期为 end。
// 相同的 seed 与 end 总是产生相同的数据。
func Synthetic(lotteryType string, n int, seed uint64, end time.Time) []plugin.DrawRecord {
	if n <= 0 {
		return nil
	}
	profile := ProfileFor(lotteryType)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	last := normalizeDate(end)

	records := make([]plugin.DrawRecord, n)
	for i := 0; i < n; i++ {
		numbers := pickDistinct(rng, profile.Pick, profile.PoolSize)
		record := plugin.DrawRecord{
			ID:          int64(i + 1),
			LotteryType: lotteryType,
			Date:        last.Add(-time.Duration(n-1-i) * profile.Interval),
			Numbers:     numbers,
		}
		if profile.BonusPool > 0 {
			bonus := rng.IntN(profile.BonusPool) + 1
			record.Bonus = &bonus
		}
		jackpot := float64(1_000_000 + rng.IntN(49_000_000))
		record.Jackpot = &jackpot
		records[i] = record
	}
	return records
}

// SeedIfEmpty 在彩种没有数据时写入 n 期合成数据，返回写入的条数。
func SeedIfEmpty(ctx context.Context, store Store, lotteryType string, n int, seed uint64) (int, error) {
	stats, err := store.Statistics(ctx, lotteryType)
	if err != nil {
		return 0, err
	}
	if stats.Total > 0 {
		return 0, nil
	}
	written, err := store.Import(ctx, Synthetic(lotteryType, n, seed, time.Now()))
	if err != nil {
		return 0, fmt.Errorf("写入合成数据失败: %w", err)
	}
	return written, nil
}

func pickDistinct(rng *rand.Rand, k, pool int) []int {
	if k > pool {
		k = pool
	}
	perm := rng.Perm(pool)[:k]
	out := make([]int, k)
	for i, v := range perm {
		out[i] = v + 1
	}
	sort.Ints(out)
	return out
}
