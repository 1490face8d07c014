package backendsync

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testConfig has pacing and rate limiting zeroed so tests run at full speed.
func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		UploadTimeout: 2 * time.Second,
	}
}

func newTestEngine(t *testing.T, baseURL string) *Engine {
	t.Helper()
	engine, err := NewEngine(newTestDB(t), testConfig(baseURL), quietLogger(), nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return engine
}
