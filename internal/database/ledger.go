package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/materialflow/config"
)

// ErrDisabled 存储驱动为 none
var ErrDisabled = errors.New("store disabled")

// =============================================================================
// 🗄️ 数据模型
// =============================================================================

// StageRecord 资产在某阶段的完成记录，(asset, stage) 唯一
type StageRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Asset       string    `gorm:"size:255;not null;uniqueIndex:idx_asset_stage"`
	Stage       string    `gorm:"size:32;not null;uniqueIndex:idx_asset_stage"`
	RunID       string    `gorm:"size:36;index"`
	Outputs     int       `gorm:"not null;default:0"`
	CompletedAt time.Time `gorm:"not null"`
}

// ObservationRecord 一条材质观测
type ObservationRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"size:36;index"`
	Asset        string `gorm:"size:255;not null;index"`
	ImagePath    string `gorm:"size:1024;not null"`
	Caption      string `gorm:"size:1024"`
	Material     string `gorm:"size:32"`
	HardnessLow  float64
	HardnessHigh float64
	Scale        string `gorm:"size:16"`
	Raw          string `gorm:"type:text"`
	Valid        bool
	CreatedAt    time.Time
}

// =============================================================================
// 📒 Ledger
// =============================================================================

// Ledger 阶段台账
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 按配置打开数据库、设置连接池并迁移表结构
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Ledger, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "", "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// sqlite 每个连接各自一份内存库，只能单连接
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	l := NewLedger(db, logger)
	if err := l.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	l.logger.Info("ledger opened", zap.String("driver", cfg.Driver))
	return l, nil
}

// NewLedger 基于已有连接创建台账（不做迁移）
func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, logger: logger.With(zap.String("component", "ledger"))}
}

// Migrate 自动迁移表结构
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&StageRecord{}, &ObservationRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// MarkDone 标记 (asset, stage) 完成，重复标记会覆盖 run_id 与产出数
func (l *Ledger) MarkDone(ctx context.Context, runID, asset, stage string, outputs int) error {
	rec := StageRecord{
		Asset:       asset,
		Stage:       stage,
		RunID:       runID,
		Outputs:     outputs,
		CompletedAt: time.Now().UTC(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "outputs", "completed_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark %s/%s done: %w", asset, stage, err)
	}
	return nil
}

// IsDone 查询 (asset, stage) 是否已完成
func (l *Ledger) IsDone(ctx context.Context, asset, stage string) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&StageRecord{}).
		Where("asset = ? AND stage = ?", asset, stage).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("query %s/%s: %w", asset, stage, err)
	}
	return n > 0, nil
}

// Record 返回 (asset, stage) 的完成记录，不存在时返回 nil
func (l *Ledger) Record(ctx context.Context, asset, stage string) (*StageRecord, error) {
	var rec StageRecord
	err := l.db.WithContext(ctx).
		Where("asset = ? AND stage = ?", asset, stage).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", asset, stage, err)
	}
	return &rec, nil
}

// Reset 清除 (asset, stage) 的完成记录
func (l *Ledger) Reset(ctx context.Context, asset, stage string) error {
	err := l.db.WithContext(ctx).
		Where("asset = ? AND stage = ?", asset, stage).
		Delete(&StageRecord{}).Error
	if err != nil {
		return fmt.Errorf("reset %s/%s: %w", asset, stage, err)
	}
	return nil
}

// ReplaceObservations 用新结果整体替换某资产的观测记录
func (l *Ledger) ReplaceObservations(ctx context.Context, asset string, records []ObservationRecord) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset = ?", asset).Delete(&ObservationRecord{}).Error; err != nil {
			return fmt.Errorf("clear observations of %s: %w", asset, err)
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			records[i].Asset = asset
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("insert observations of %s: %w", asset, err)
		}
		return nil
	})
}

// Observations 返回某资产的观测记录（按写入顺序）
func (l *Ledger) Observations(ctx context.Context, asset string) ([]ObservationRecord, error) {
	var out []ObservationRecord
	err := l.db.WithContext(ctx).Where("asset = ?", asset).Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list observations of %s: %w", asset, err)
	}
	return out, nil
}

// Close 关闭底层连接
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
