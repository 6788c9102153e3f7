// Package signalstore 持久化回测运行与其产生的信号（gorm + sqlite）。
package signalstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
)

var ErrNotFound = errors.New("run not found")

// RunStatus 运行状态。
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run 一次回测运行的记录。
type Run struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Status     RunStatus       `json:"status"`
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	Bars       int             `json:"bars"`
	Skipped    int             `json:"skipped"`
	Errors     int             `json:"errors"`
	Signals    int             `json:"signals"`
	Message    string          `json:"message,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Summary 运行结束时回写的统计。
type Summary struct {
	Status  RunStatus
	Bars    int
	Skipped int
	Errors  int
	Signals int
	Message string
	// Details 任意可 JSON 序列化的附加信息（如参考库校验偏差）。
	Details any
}

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Strategy       string         `gorm:"column:strategy;index"`
	Symbol         string         `gorm:"column:symbol"`
	Interval       string         `gorm:"column:interval"`
	Status         string         `gorm:"column:status"`
	RangeStartUnix int64          `gorm:"column:range_start"`
	RangeEndUnix   int64          `gorm:"column:range_end"`
	Bars           int            `gorm:"column:bars"`
	Skipped        int            `gorm:"column:skipped"`
	Errors         int            `gorm:"column:errors"`
	Signals        int            `gorm:"column:signals"`
	Message        string         `gorm:"column:message"`
	RequestJSON    datatypes.JSON `gorm:"column:request_json;type:TEXT"`
	DetailsJSON    datatypes.JSON `gorm:"column:details_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
}

func (runModel) TableName() string { return "runs" }

type signalModel struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string `gorm:"column:run_id;index:idx_signal_run,priority:1"`
	Seq           int    `gorm:"column:seq;index:idx_signal_run,priority:2"`
	Kind          string `gorm:"column:kind"`
	Direction     string `gorm:"column:direction"`
	Price         string `gorm:"column:price"`
	Strategy      string `gorm:"column:strategy"`
	Symbol        string `gorm:"column:symbol"`
	BarIndex      int    `gorm:"column:bar_index"`
	TimestampUnix int64  `gorm:"column:ts"`
}

func (signalModel) TableName() string { return "signals" }

// Store 运行与信号的存储。
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）path 处的 sqlite 文件并迁移表结构。
// 使用 modernc 驱动（driver name "sqlite"），不依赖 cgo。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("signal store: path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &signalModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 写入一条新的运行记录；ID 与 CreatedAt 必须由调用方给出。
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("signal store: run id 不能为空")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	m := runModel{
		ID:             run.ID,
		Strategy:       run.Strategy,
		Symbol:         run.Symbol,
		Interval:       run.Interval,
		Status:         string(run.Status),
		RangeStartUnix: unixMilli(run.RangeStart),
		RangeEndUnix:   unixMilli(run.RangeEnd),
		Message:        run.Message,
		RequestJSON:    jsonColumn(run.Request),
		DetailsJSON:    jsonColumn(run.Details),
		CreatedAtUnix:  unixMilli(run.CreatedAt),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// FinishRun 回写运行结果。
func (s *Store) FinishRun(ctx context.Context, id string, sum Summary) error {
	updates := map[string]any{
		"status":      string(sum.Status),
		"bars":        sum.Bars,
		"skipped":     sum.Skipped,
		"errors":      sum.Errors,
		"signals":     sum.Signals,
		"message":     sum.Message,
		"finished_at": time.Now().UnixMilli(),
	}
	if sum.Details != nil {
		raw, err := json.Marshal(sum.Details)
		if err != nil {
			return fmt.Errorf("signal store: encode details: %w", err)
		}
		updates["details_json"] = jsonColumn(raw)
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SaveSignals 在一个事务内追加 run 的信号，保持输入顺序。
func (s *Store) SaveSignals(ctx context.Context, runID string, events []signal.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var base int64
		if err := tx.Model(&signalModel{}).Where("run_id = ?", runID).Count(&base).Error; err != nil {
			return err
		}
		rows := make([]signalModel, 0, len(events))
		for i, ev := range events {
			rows = append(rows, signalModel{
				RunID:         runID,
				Seq:           int(base) + i + 1,
				Kind:          string(ev.Kind),
				Direction:     string(ev.Direction),
				Price:         ev.Price.String(),
				Strategy:      ev.Strategy,
				Symbol:        ev.Symbol,
				BarIndex:      ev.BarIndex,
				TimestampUnix: ev.Timestamp.UnixMilli(),
			})
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// ListSignals 按产生顺序返回 run 的信号。
func (s *Store) ListSignals(ctx context.Context, runID string) ([]signal.Event, error) {
	var rows []signalModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]signal.Event, 0, len(rows))
	for _, r := range rows {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("signal store: run %s seq %d price %q: %w", runID, r.Seq, r.Price, err)
		}
		out = append(out, signal.Event{
			Kind:      signal.Kind(r.Kind),
			Direction: signal.Direction(r.Direction),
			Price:     price,
			Timestamp: time.UnixMilli(r.TimestampUnix).UTC(),
			Strategy:  r.Strategy,
			Symbol:    r.Symbol,
			BarIndex:  r.BarIndex,
		})
	}
	return out, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun(), nil
}

// ListRuns 返回最近的运行，按创建时间倒序。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toRun())
	}
	return out, nil
}

func (m runModel) toRun() Run {
	return Run{
		ID:         m.ID,
		Strategy:   m.Strategy,
		Symbol:     m.Symbol,
		Interval:   m.Interval,
		Status:     RunStatus(m.Status),
		RangeStart: fromMilli(m.RangeStartUnix),
		RangeEnd:   fromMilli(m.RangeEndUnix),
		Bars:       m.Bars,
		Skipped:    m.Skipped,
		Errors:     m.Errors,
		Signals:    m.Signals,
		Message:    m.Message,
		Request:    rawOrNil(m.RequestJSON),
		Details:    rawOrNil(m.DetailsJSON),
		CreatedAt:  fromMilli(m.CreatedAtUnix),
		FinishedAt: fromMilli(m.FinishedAtUnix),
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// jsonColumn 空值存为 JSON null，读取时不会遇到 SQL NULL。
func jsonColumn(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

func rawOrNil(col datatypes.JSON) json.RawMessage {
	if len(col) == 0 || string(col) == "null" {
		return nil
	}
	return json.RawMessage(col)
}
