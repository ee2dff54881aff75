// Package migrations 内嵌数据库结构迁移脚本，并通过 goose 执行。
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	// 注册 database/sql 驱动: "pgx" 与 "mysql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// 支持的迁移操作
const (
	ActionUp     = "up"
	ActionDown   = "down"
	ActionStatus = "status"
)

// dialect 描述一种数据库在 goose 与 database/sql 中的名称
type dialect struct {
	goose  string
	driver string
	dir    string
}

func dialectFor(dbType string) (dialect, error) {
	switch dbType {
	case "postgres":
		return dialect{goose: "pgx", driver: "pgx", dir: "postgres"}, nil
	case "mysql":
		return dialect{goose: "mysql", driver: "mysql", dir: "mysql"}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database type %q", dbType)
	}
}

// Open 打开用于迁移的数据库连接
func Open(ctx context.Context, dbType, dsn string) (*sql.DB, error) {
	d, err := dialectFor(dbType)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Run 对数据库执行指定的迁移操作
func Run(ctx context.Context, db *sql.DB, dbType, action string) error {
	d, err := dialectFor(dbType)
	if err != nil {
		return err
	}

	var run func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error
	switch action {
	case ActionUp:
		run = goose.UpContext
	case ActionDown:
		run = goose.DownContext
	case ActionStatus:
		run = goose.StatusContext
	default:
		return fmt.Errorf("unsupported migration action %q", action)
	}

	goose.SetBaseFS(files)
	if err := goose.SetDialect(d.goose); err != nil {
		return err
	}
	return run(ctx, db, d.dir)
}
