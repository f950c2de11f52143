package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"marlin/internal/market"
)

// Store 按 symbol@timeframe 一库一文件保存 K 线。open_time 为主键，
// 重复写入走 upsert，因此拉取任务可以放心重试。
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
    open_time  INTEGER PRIMARY KEY,
    close_time INTEGER NOT NULL,
    open       REAL NOT NULL,
    high       REAL NOT NULL,
    low        REAL NOT NULL,
    close      REAL NOT NULL,
    volume     REAL NOT NULL,
    trades     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_candles_close_time ON candles(close_time);
`

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("candle 数据目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录 %s: %w", dir, err)
	}
	return &Store{dir: dir, dbs: make(map[string]*sql.DB)}, nil
}

func datasetKey(symbol, timeframe string) string {
	return fmt.Sprintf("%s@%s", strings.ToUpper(symbol), strings.ToLower(timeframe))
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, error) {
	key := datasetKey(symbol, timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, nil
	}
	path := filepath.Join(s.dir, key+".db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 %s: %w", path, err)
	}
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化 %s schema: %w", path, err)
	}
	s.dbs[key] = db
	return db, nil
}

// UpsertCandles 批量写入，同一事务内逐条 upsert。
func (s *Store) UpsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(open_time) DO UPDATE SET
    close_time = excluded.close_time,
    open       = excluded.open,
    high       = excluded.high,
    low        = excluded.low,
    close      = excluded.close,
    volume     = excluded.volume,
    trades     = excluded.trades`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("写入 %s %s open_time=%d: %w", symbol, timeframe, c.OpenTime, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// RangeCandles 返回 [start, end]（毫秒，按 open_time）内的 K 线，升序。
func (s *Store) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) (market.Candles, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT open_time, close_time, open, high, low, close, volume, trades
FROM candles WHERE open_time >= ? AND open_time <= ? ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out market.Candles
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCandles 统计区间内已有多少根。
func (s *Store) CountCandles(ctx context.Context, symbol, timeframe string, start, end int64) (int64, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE open_time >= ? AND open_time <= ?`,
		start, end).Scan(&n)
	return n, err
}

// Gap 是网格上缺失的一段连续 K 线（open_time 闭区间）。
type Gap struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// IntegrityReport 描述一个区间内数据的完整程度。
type IntegrityReport struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Expected  int64  `json:"expected"`
	Actual    int64  `json:"actual"`
	Gaps      []Gap  `json:"gaps,omitempty"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Actual >= r.Expected
}

// CheckIntegrity 对照周期网格找出缺口。区间先对齐，逐格扫描，
// 相邻缺格合并为一个 Gap。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{
		Symbol:    strings.ToUpper(symbol),
		Timeframe: tf.Key,
		Start:     start,
		End:       end,
		Expected:  tf.ExpectedCandles(start, end),
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return report, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT open_time FROM candles WHERE open_time >= ? AND open_time <= ? ORDER BY open_time ASC`,
		start, end)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	have := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return report, err
		}
		have[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return report, err
	}
	report.Actual = int64(len(have))

	step := tf.durationMillis()
	var cur *Gap
	for ts := start; ts <= end; ts += step {
		if _, ok := have[ts]; ok {
			if cur != nil {
				report.Gaps = append(report.Gaps, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &Gap{Start: ts, End: ts}
		} else {
			cur.End = ts
		}
	}
	if cur != nil {
		report.Gaps = append(report.Gaps, *cur)
	}
	return report, nil
}

// Dataset 描述磁盘上的一份 K 线数据集。
type Dataset struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int64  `json:"count"`
	FirstTS   int64  `json:"first_ts"`
	LastTS    int64  `json:"last_ts"`
}

// ListDatasets 扫描数据目录，列出全部已有数据集及覆盖范围。
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Dataset
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		key := strings.TrimSuffix(name, ".db")
		parts := strings.SplitN(key, "@", 2)
		if len(parts) != 2 {
			continue
		}
		db, err := s.db(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		var ds Dataset
		ds.Symbol, ds.Timeframe = parts[0], parts[1]
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(MIN(open_time), 0), COALESCE(MAX(open_time), 0) FROM candles`).
			Scan(&ds.Count, &ds.FirstTS, &ds.LastTS)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out, nil
}

// Close 释放全部已打开的数据库句柄。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for key, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, key)
	}
	return first
}
