// Package storagetest provides an in-memory sqlite database for tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitechat/internal/models"
	"sitechat/internal/storage"
)

// NewDB opens a migrated in-memory database that is closed with the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrateTables(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SeedUsers creates n staff users named user1..userN and returns their ids.
func SeedUsers(t testing.TB, db *gorm.DB, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 1; i <= n; i++ {
		u := models.User{Username: fmt.Sprintf("user%d", i), Nickname: fmt.Sprintf("User %d", i), Role: models.RoleStaff}
		require.NoError(t, db.WithContext(context.Background()).Create(&u).Error)
		ids = append(ids, u.ID)
	}
	return ids
}
