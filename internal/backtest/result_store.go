package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ResultStore 持久化 run / 成交日志 / 资金曲线。
// Config 与 Metrics 以 JSON 列落盘，迁移零成本。
type ResultStore struct {
	db *gorm.DB
}

type runRow struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"index"`
	Timeframe   string
	Status      string `gorm:"index"`
	StartTS     int64
	EndTS       int64
	Message     string
	Config      datatypes.JSON
	Metrics     datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

func (runRow) TableName() string { return "backtest_runs" }

type tradeRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	RunID          string `gorm:"index"`
	Type           string
	Symbol         string
	Price          float64
	Quantity       float64
	Confidence     float64
	Direction      string
	Timestamp      int64 `gorm:"index"`
	ExitReason     string
	PnLPercent     float64
	ProfitLossUSDT float64
}

func (tradeRow) TableName() string { return "backtest_trades" }

type equityRow struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"index"`
	TS     int64
	Equity float64
}

func (equityRow) TableName() string { return "backtest_equity" }

func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 result store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&runRow{}, &tradeRow{}, &equityRow{}); err != nil {
		return nil, fmt.Errorf("迁移 result store: %w", err)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	row, err := runToRow(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	return s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":  status,
		"message": message,
	}).Error
}

func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, metrics Metrics, message string) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"message":      message,
		"metrics":      datatypes.JSON(raw),
		"completed_at": time.Now(),
	}).Error
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var row runRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return rowToRun(row)
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&tradeRow{}, "run_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&equityRow{}, "run_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&runRow{}, "id = ?", id).Error
	})
}

func (s *ResultStore) InsertTrade(ctx context.Context, t *TradeRecord) (int64, error) {
	row := tradeRow{
		RunID:          t.RunID,
		Type:           t.Type,
		Symbol:         t.Symbol,
		Price:          t.Price,
		Quantity:       t.Quantity,
		Confidence:     t.Confidence,
		Direction:      t.Direction,
		Timestamp:      t.Timestamp,
		ExitReason:     t.ExitReason,
		PnLPercent:     t.PnLPercent,
		ProfitLossUSDT: t.ProfitLossUSDT,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	t.ID = row.ID
	return row.ID, nil
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	var rows []tradeRow
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, TradeRecord{
			ID:             row.ID,
			RunID:          row.RunID,
			Type:           row.Type,
			Symbol:         row.Symbol,
			Price:          row.Price,
			Quantity:       row.Quantity,
			Confidence:     row.Confidence,
			Direction:      row.Direction,
			Timestamp:      row.Timestamp,
			ExitReason:     row.ExitReason,
			PnLPercent:     row.PnLPercent,
			ProfitLossUSDT: row.ProfitLossUSDT,
		})
	}
	return out, nil
}

func (s *ResultStore) InsertEquityPoint(ctx context.Context, pt EquityPoint) (int64, error) {
	row := equityRow{RunID: pt.RunID, TS: pt.TS, Equity: pt.Equity}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *ResultStore) ListEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	var rows []equityRow
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("ts ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EquityPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, EquityPoint{ID: row.ID, RunID: row.RunID, TS: row.TS, Equity: row.Equity})
	}
	return out, nil
}

func runToRow(run Run) (runRow, error) {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return runRow{}, err
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return runRow{}, err
	}
	return runRow{
		ID:          run.ID,
		Symbol:      run.Symbol,
		Timeframe:   run.Timeframe,
		Status:      run.Status,
		StartTS:     run.StartTS,
		EndTS:       run.EndTS,
		Message:     run.Message,
		Config:      datatypes.JSON(cfg),
		Metrics:     datatypes.JSON(metrics),
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		CompletedAt: run.CompletedAt,
	}, nil
}

func rowToRun(row runRow) (Run, error) {
	run := Run{
		ID:          row.ID,
		Symbol:      row.Symbol,
		Timeframe:   row.Timeframe,
		Status:      row.Status,
		StartTS:     row.StartTS,
		EndTS:       row.EndTS,
		Message:     row.Message,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		CompletedAt: row.CompletedAt,
	}
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &run.Config); err != nil {
			return Run{}, fmt.Errorf("解析 run %s config: %w", row.ID, err)
		}
	}
	if len(row.Metrics) > 0 {
		if err := json.Unmarshal(row.Metrics, &run.Metrics); err != nil {
			return Run{}, fmt.Errorf("解析 run %s metrics: %w", row.ID, err)
		}
	}
	return run, nil
}
