package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// OpenDatabase opens the device-local store. The handle is passed to the sync
// engine explicitly; there is no package-level DB so tests can run against an
// in-memory database.
func OpenDatabase(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("LOCAL_DB_PATH")
	}
	if strings.TrimSpace(path) == "" {
		path = "staffexpense.db"
	}

	db, err := gorm.Open(sqlite.Open(path), initConfig())
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}

	// sqlite allows a single writer; keep the pool at one connection so
	// concurrent sibling sync flows serialize on the store instead of
	// hitting SQLITE_BUSY.
	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(60 * time.Second)
	}

	return db, nil
}

func initConfig() *gorm.Config {
	logLevel := logger.Warn
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DEBUG")), "true") {
		logLevel = logger.Info
	}
	return &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: false,
		},
	}
}
