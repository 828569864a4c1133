package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig sizes the database/sql connection pool behind a *gorm.DB.
// Zero durations disable the corresponding limit.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns 25 open and 10 idle connections, recycled after
// five minutes or one idle minute.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// PoolConfigForWorkers grows the defaults for a worker pool of the given
// size. Every worker holds one connection while an operation is processed,
// and the engine pass, the claim and the after-commit pass need headroom.
func PoolConfigForWorkers(threads int) PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConns = max(cfg.MaxOpenConns, threads+5)
	cfg.MaxIdleConns = max(cfg.MaxIdleConns, threads/2)
	return cfg
}

// PoolOption overrides one pool setting.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolSetting func(*PoolConfig)

func (f poolSetting) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns caps open connections. In-memory SQLite needs 1 since every
// connection would see its own database.
func MaxOpenConns(n int) PoolOption {
	return poolSetting(func(c *PoolConfig) { c.MaxOpenConns = n })
}

// MaxIdleConns caps idle connections.
func MaxIdleConns(n int) PoolOption {
	return poolSetting(func(c *PoolConfig) { c.MaxIdleConns = n })
}

// ConnMaxLifetime recycles connections after d.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolSetting(func(c *PoolConfig) { c.ConnMaxLifetime = d })
}

// ConnMaxIdleTime closes connections idle for d.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolSetting(func(c *PoolConfig) { c.ConnMaxIdleTime = d })
}

// WithPoolConfig replaces every setting.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolSetting(func(c *PoolConfig) { *c = cfg })
}

// ConfigurePool applies opts over DefaultPoolConfig to db's connection pool.
// Idle connections never exceed open ones.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}
	if cfg.MaxOpenConns > 0 {
		cfg.MaxIdleConns = min(cfg.MaxIdleConns, cfg.MaxOpenConns)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// NewGormStorageWithPool configures db's pool and wraps it.
func NewGormStorageWithPool(db *gorm.DB, opts ...PoolOption) (*GormStorage, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStorage(db), nil
}
