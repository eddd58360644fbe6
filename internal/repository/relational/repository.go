package relational

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository implements the relational store repositories on top of gorm.
type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRepository wraps an open gorm handle.
func NewRepository(db *gorm.DB, log *zap.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// DB returns the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// first loads one row into dest, returning false when it does not exist.
func first(tx *gorm.DB, dest any) (bool, error) {
	err := tx.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
