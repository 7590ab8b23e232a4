package draws

import (
	"context"
	"sort"
	"strings"
	"time"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/plugin"
)

// DateLayout 是开奖日期在存储中的格式。
const DateLayout = "2006-01-02"

// Source 为插件执行提供历史数据。
type Source interface {
	// FetchHistorical 返回 lotteryType 在最近 windowDays 天内的开奖记录，
	// 按日期升序排列。窗口以该彩种最新一期的日期为终点；windowDays <= 0 时返回全部。
	FetchHistorical(ctx context.Context, lotteryType string, windowDays int) ([]plugin.DrawRecord, error)
}

// Store 在 Source 的基础上提供导入与统计能力。
type Store interface {
	Source
	Import(ctx context.Context, records []plugin.DrawRecord) (int, error)
	Latest(ctx context.Context, lotteryType string) (plugin.DrawRecord, error)
	Statistics(ctx context.Context, lotteryType string) (Statistics, error)
	LotteryTypes(ctx context.Context) ([]string, error)
	Close() error
}

// Statistics 汇总某个彩种的数据规模。
type Statistics struct {
	LotteryType    string    `json:"lottery_type"`
	Total          int       `json:"total"`
	FirstDrawDate  time.Time `json:"first_draw_date,omitempty"`
	LastDrawDate   time.Time `json:"last_draw_date,omitempty"`
	AverageJackpot *float64  `json:"average_jackpot,omitempty"`
}

// ErrNoDraws 表示指定彩种没有任何开奖记录。
var ErrNoDraws = xerrors.New(xerrors.CodeNotFound, "no draws recorded", xerrors.WithSeverity(xerrors.SeverityInfo))

// normalizeDate 将时间截断为 UTC 日期。
func normalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowStart 返回窗口的起始日期（含）。
func windowStart(latest time.Time, windowDays int) time.Time {
	return normalizeDate(latest).AddDate(0, 0, -windowDays)
}

func validateRecord(r plugin.DrawRecord) error {
	if strings.TrimSpace(r.LotteryType) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "开奖记录缺少 lottery_type")
	}
	if r.ID <= 0 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "开奖记录 id 必须为正数: %d", r.ID)
	}
	if r.Date.IsZero() {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "开奖记录 %s/%d 缺少日期", r.LotteryType, r.ID)
	}
	if len(r.Numbers) == 0 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "开奖记录 %s/%d 缺少号码", r.LotteryType, r.ID)
	}
	return nil
}

func sortRecords(records []plugin.DrawRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date.Equal(records[j].Date) {
			return records[i].ID < records[j].ID
		}
		return records[i].Date.Before(records[j].Date)
	})
}

func cloneRecord(r plugin.DrawRecord) plugin.DrawRecord {
	out := r
	out.Numbers = append([]int(nil), r.Numbers...)
	if r.Bonus != nil {
		b := *r.Bonus
		out.Bonus = &b
	}
	if r.Jackpot != nil {
		j := *r.Jackpot
		out.Jackpot = &j
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
