package relational

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BarkinBalci/engagement-engine/internal/config"
)

// Connect opens the relational store. postgres:// URLs use Postgres, any
// other value is a SQLite path or DSN.
func Connect(cfg *config.Database, log *zap.Logger) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(log),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	log.Info("Relational store connected",
		zap.String("dialect", db.Dialector.Name()),
		zap.Bool("auto_migrate", cfg.AutoMigrate))
	return db, nil
}

// newGormLogger routes gorm's slow query and error lines through zap. Missing
// rows are an expected lookup result and are not logged.
func newGormLogger(log *zap.Logger) gormlogger.Interface {
	return gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate creates or updates every table of the relational store.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&SegmentModel{},
		&UserPropertyModel{},
		&JourneyModel{},
		&IntegrationModel{},
		&SubscriptionGroupModel{},
		&MessageTemplateModel{},
		&ComputedPropertyPeriodModel{},
		&SegmentAssignmentModel{},
		&UserPropertyAssignmentModel{},
		&JourneyInstanceModel{},
		&UserJourneyEventModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate relational schema: %w", err)
	}
	return nil
}
