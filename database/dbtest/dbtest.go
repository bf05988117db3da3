// Package dbtest 提供基于内存 SQLite 的 database.Provider，仅供测试使用
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Provider 测试数据库提供者
type Provider struct {
	db *gorm.DB
}

// New 为每个测试创建独立的内存数据库并完成迁移
func New(t testing.TB) *Provider {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	// 单连接，避免共享缓存下的表锁冲突
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	p := &Provider{db: db}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func (p *Provider) DB() *gorm.DB {
	return p.db
}

func (p *Provider) WithContext(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx)
}

func (p *Provider) Transaction(fn database.TxFunc) error {
	return p.db.Transaction(fn)
}

func (p *Provider) TransactionWithContext(ctx context.Context, fn database.TxFunc) error {
	return p.db.WithContext(ctx).Transaction(fn)
}

func (p *Provider) BeginTransaction() *gorm.DB {
	return p.db.Begin()
}

func (p *Provider) WithTransaction() *gorm.DB {
	return p.db
}

func (p *Provider) AutoMigrate(models ...interface{}) error {
	return p.db.AutoMigrate(models...)
}

func (p *Provider) SQLDB() (*sql.DB, error) {
	return p.db.DB()
}

func (p *Provider) Ping() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (p *Provider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Provider) Name() string {
	return "sqlite-memory"
}
