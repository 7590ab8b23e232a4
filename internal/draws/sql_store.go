package draws

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "DrawSight/internal/errors"
	"DrawSight/internal/storage/sqldb"
	"DrawSight/pkg/plugin"
)

// SQLStore 使用 MySQL 或 SQLite 保存开奖记录，表结构见 deploy/migrations。
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore 建立连接并执行迁移。
func OpenSQLStore(ctx context.Context, cfg sqldb.Config) (*SQLStore, error) {
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开开奖数据库失败")
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore 基于已经迁移过的连接构造 SQLStore。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB 返回底层连接，便于其它组件共享同一数据库。
func (s *SQLStore) DB() *sql.DB { return s.db }

const drawColumns = `lottery_type, draw_id, draw_date, numbers, bonus, jackpot, metadata`

// Import 在单个事务中写入记录，重复的 (lottery_type, draw_id) 会被替换。
func (s *SQLStore) Import(ctx context.Context, records []plugin.DrawRecord) (int, error) {
	for _, r := range records {
		if err := validateRecord(r); err != nil {
			return 0, err
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启导入事务失败")
	}
	stmt, err := tx.PrepareContext(ctx, `REPLACE INTO lottery_draws (`+drawColumns+`, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "准备导入语句失败")
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		numbers, err := json.Marshal(r.Numbers)
		if err != nil {
			tx.Rollback()
			return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码开奖号码失败")
		}
		metadata, err := marshalMetadata(r.Metadata)
		if err != nil {
			tx.Rollback()
			return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码开奖 metadata 失败")
		}
		if _, err := stmt.ExecContext(ctx,
			r.LotteryType,
			r.ID,
			normalizeDate(r.Date).Format(DateLayout),
			string(numbers),
			nullInt(r.Bonus),
			nullFloat(r.Jackpot),
			metadata,
			now,
		); err != nil {
			tx.Rollback()
			return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入开奖记录失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交导入事务失败")
	}
	return len(records), nil
}

// FetchHistorical 实现 Source 接口。
func (s *SQLStore) FetchHistorical(ctx context.Context, lotteryType string, windowDays int) ([]plugin.DrawRecord, error) {
	query := `SELECT ` + drawColumns + ` FROM lottery_draws WHERE lottery_type = ?`
	args := []any{lotteryType}

	if windowDays > 0 {
		latest, ok, err := s.latestDate(ctx, lotteryType)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []plugin.DrawRecord{}, nil
		}
		query += ` AND draw_date >= ?`
		args = append(args, windowStart(latest, windowDays).Format(DateLayout))
	}
	query += ` ORDER BY draw_date ASC, draw_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史开奖失败")
	}
	defer rows.Close()

	records := make([]plugin.DrawRecord, 0, 64)
	for rows.Next() {
		record, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历历史开奖失败")
	}
	return records, nil
}

// Latest 返回日期最新的一期。
func (s *SQLStore) Latest(ctx context.Context, lotteryType string) (plugin.DrawRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM lottery_draws WHERE lottery_type = ?
        ORDER BY draw_date DESC, draw_id DESC LIMIT 1`, lotteryType)
	record, err := scanDraw(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return plugin.DrawRecord{}, ErrNoDraws
		}
		return plugin.DrawRecord{}, err
	}
	return record, nil
}

// Statistics 汇总彩种的数据规模。
func (s *SQLStore) Statistics(ctx context.Context, lotteryType string) (Statistics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(draw_date), MAX(draw_date), AVG(jackpot)
        FROM lottery_draws WHERE lottery_type = ?`, lotteryType)

	var (
		total       int
		first, last sql.NullString
		avg         sql.NullFloat64
	)
	if err := row.Scan(&total, &first, &last, &avg); err != nil {
		return Statistics{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询开奖统计失败")
	}
	stats := Statistics{LotteryType: lotteryType, Total: total}
	if first.Valid {
		stats.FirstDrawDate, _ = time.Parse(DateLayout, first.String)
	}
	if last.Valid {
		stats.LastDrawDate, _ = time.Parse(DateLayout, last.String)
	}
	if avg.Valid {
		v := avg.Float64
		stats.AverageJackpot = &v
	}
	return stats, nil
}

// LotteryTypes 返回已有数据的彩种，按名称排序。
func (s *SQLStore) LotteryTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT lottery_type FROM lottery_draws ORDER BY lottery_type`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询彩种失败")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var lt string
		if err := rows.Scan(&lt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析彩种失败")
		}
		out = append(out, lt)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历彩种失败")
	}
	return out, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) latestDate(ctx context.Context, lotteryType string) (time.Time, bool, error) {
	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(draw_date) FROM lottery_draws WHERE lottery_type = ?`, lotteryType).Scan(&latest); err != nil {
		return time.Time{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询最新开奖日期失败")
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析开奖日期失败")
	}
	return t, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(row rowScanner) (plugin.DrawRecord, error) {
	var (
		record   plugin.DrawRecord
		date     string
		numbers  string
		bonus    sql.NullInt64
		jackpot  sql.NullFloat64
		metadata sql.NullString
	)
	if err := row.Scan(&record.LotteryType, &record.ID, &date, &numbers, &bonus, &jackpot, &metadata); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return plugin.DrawRecord{}, err
		}
		return plugin.DrawRecord{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析开奖记录失败")
	}
	parsed, err := time.Parse(DateLayout, date)
	if err != nil {
		return plugin.DrawRecord{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析开奖日期失败")
	}
	record.Date = parsed
	if err := json.Unmarshal([]byte(numbers), &record.Numbers); err != nil {
		return plugin.DrawRecord{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析开奖号码失败")
	}
	if bonus.Valid {
		b := int(bonus.Int64)
		record.Bonus = &b
	}
	if jackpot.Valid {
		j := jackpot.Float64
		record.Jackpot = &j
	}
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		if err := json.Unmarshal([]byte(metadata.String), &record.Metadata); err != nil {
			return plugin.DrawRecord{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析开奖 metadata 失败")
		}
	}
	return record, nil
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

var _ Store = (*SQLStore)(nil)
