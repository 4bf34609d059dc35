package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type gormHandle struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    *gorm.DB
}

// Database returns an ORM handle bound to the tenant's pool, so queries run
// under the tenant's search_path. Handles are cached per pool.
func (m *Manager) Database(ctx context.Context, tenantID string) (*gorm.DB, error) {
	pool, err := m.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	m.gormMu.Lock()
	defer m.gormMu.Unlock()

	if h, ok := m.gormDBs[tenantID]; ok && h.pool == pool {
		return h.db.WithContext(ctx), nil
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open orm handle for %s: %w", tenantID, err)
	}

	if old, ok := m.gormDBs[tenantID]; ok {
		old.sqlDB.Close()
	}
	m.gormDBs[tenantID] = &gormHandle{pool: pool, sqlDB: sqlDB, db: db}
	return db.WithContext(ctx), nil
}

func (m *Manager) dropGorm(tenantID string) {
	m.gormMu.Lock()
	h, ok := m.gormDBs[tenantID]
	delete(m.gormDBs, tenantID)
	m.gormMu.Unlock()
	if ok {
		h.sqlDB.Close()
	}
}
