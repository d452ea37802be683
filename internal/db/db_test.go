package db

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"icu-capacity-backend/config"
	"icu-capacity-backend/internal/logger"
	"icu-capacity-backend/internal/model"
)

func TestInit_SqliteMigratesAllTables(t *testing.T) {
	gormDB, err := Init(&config.DatabaseConfig{Driver: "sqlite", DSN: "file:db_init_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	for _, table := range []any{
		&model.Ward{}, &model.Bed{}, &model.Patient{},
		&model.Allocation{}, &model.AuditLogEntry{}, &model.PushSubscription{},
	} {
		assert.True(t, gormDB.Migrator().HasTable(table))
	}
	assert.True(t, gormDB.Migrator().HasIndex(&model.Allocation{}, "idx_allocations_active_bed"))
	assert.True(t, gormDB.Migrator().HasIndex(&model.Allocation{}, "idx_allocations_active_patient"))
}

func TestOpen_LogsThroughLogrus(t *testing.T) {
	var buf bytes.Buffer
	logger.Init("info")
	logger.Log.SetOutput(&buf)
	defer logger.Silence()

	gormDB, err := Init(&config.DatabaseConfig{Driver: "sqlite", DSN: "file:db_logger_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	buf.Reset()
	var bed model.Bed
	err = gormDB.First(&bed, 999).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "expected misses are not logged")

	err = gormDB.Table("no_such_table").Find(&[]model.Bed{}).Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"component":"gorm"`)
	assert.Contains(t, buf.String(), "no_such_table")
}
