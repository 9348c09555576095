package users

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected sqlite open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected db handle error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(SQLStoreConfig{
		Database:     newTestDatabase(t),
		RetryBackoff: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected store constructor error: %v", err)
	}
	return store
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected service constructor error: %v", err)
	}
	return service
}

func strPtr(value string) *string {
	return &value
}
