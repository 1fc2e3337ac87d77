package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenMemory 打开一个独立的内存 SQLite 库并迁移表结构，用于单元测试和本地调试
//
// 只保留一个连接：SQLite 不支持并发写事务，单连接让事务在连接池上排队
func OpenMemory() (*gorm.DB, error) {
	return OpenMemoryConns(1)
}

// OpenMemoryConns 多连接共享同一个内存库
//
// 多连接时开启 read_uncommitted，读不加表锁，一个事务读到余额之后，
// 另一个连接可以先提交写入，用来重现乐观锁冲突。
// 同一时刻仍然只能有一个写事务，调用方自己保证写入不重叠
func OpenMemoryConns(conns int) (*gorm.DB, error) {
	if conns < 1 {
		conns = 1
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if conns > 1 {
		dsn += "&_pragma=read_uncommitted(1)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(conns)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
