// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a migrated in-memory sqlite database closed at test cleanup.
func New(t *testing.T) db.Database {
	t.Helper()

	d, err := db.New(context.Background(), "sqlite", "file::memory:", &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close(d)
	})
	return d
}
