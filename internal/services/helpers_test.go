package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/lock"
	"github.com/tbourn/go-lending-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: shared-cache SQLite rejects concurrent writers.
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newRequestSvc(db *gorm.DB) *RequestService {
	return NewRequestService(db, NewItemService(db, repo.ItemStore{}), lock.NewMemory())
}

func mustUser(t *testing.T, db *gorm.DB, id string, quota int) {
	t.Helper()
	if err := repo.CreateUser(context.Background(), db, &domain.User{ID: id, Name: id, RequestsLimit: quota}); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func quotaOf(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	u, err := repo.GetUser(context.Background(), db, id)
	if err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return u.RequestsLimit
}

func boolPtr(b bool) *bool { return &b }
