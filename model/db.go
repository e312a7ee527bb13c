package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/common/mysqldsn"
)

// DB is the shared handle for the credentials/config database (spec.md §6
// "Credentials DB"). It holds Credential and TokenCache rows only — no
// request/usage/billing tables, per spec.md §1 Non-goals.
var DB *gorm.DB

func chooseDB(dsn string) (*gorm.DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return openPostgreSQL(dsn)
	case dsn != "":
		return openMySQL(dsn)
	default:
		return openSQLite()
	}
}

func openPostgreSQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using PostgreSQL as credentials database")
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{PrepareStmt: true})
}

func openMySQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using MySQL as credentials database")
	normalized, err := mysqldsn.Normalize(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "normalize MySQL DSN")
	}
	return gorm.Open(mysql.Open(normalized), &gorm.Config{PrepareStmt: true})
}

func openSQLite() (*gorm.DB, error) {
	logger.Logger.Info("SQL_DSN not set, using SQLite as credentials database",
		zap.String("path", config.SQLitePath))
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", config.SQLitePath)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{PrepareStmt: true})
}

// InitDB opens the configured database and migrates the Credential and
// TokenCache schemas. It is the gateway-scoped replacement for the teacher's
// much larger multi-table InitDB (users/tokens/logs/billing all dropped
// per spec.md §1 Non-goals).
func InitDB() error {
	db, err := chooseDB(config.SQLDSN)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	DB = db

	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "unwrap sql.DB")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := DB.AutoMigrate(&Credential{}, &TokenCache{}); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	logger.Logger.Info("credentials database ready")
	return nil
}
