package repository

import (
	"fmt"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"gorm.io/gorm"
)

// Migration is one schema step. Up runs inside its own transaction and must
// tolerate databases created by older tooling, where the table may already exist.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

type schemaMigration struct {
	Version   int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"type:text;not null"`
	AppliedAt time.Time
}

func (schemaMigration) TableName() string {
	return "schema_migrations"
}

// Migrations is the ordered schema history. Append only.
var Migrations = []Migration{
	{Version: 1, Name: "create_topics", Up: createTableIfMissing(&domain.Topic{})},
	{Version: 2, Name: "create_media", Up: createTableIfMissing(&domain.Media{})},
	{Version: 3, Name: "create_queries", Up: createTableIfMissing(&domain.QueryLog{})},
	{Version: 4, Name: "media_format_columns", Up: addMediaFormatColumns},
	{Version: 5, Name: "create_external_cache", Up: createTableIfMissing(&domain.ExternalCacheEntry{})},
	{Version: 6, Name: "lookup_indexes", Up: ensureIndexes},
}

// Migrate applies every migration not yet recorded in schema_migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []int
	if err := db.Model(&schemaMigration{}).Pluck("version", &applied).Error; err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range Migrations {
		if done[m.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&schemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		logger.Info("[DB] Applied migration: version=%d, name=%s", m.Version, m.Name)
	}
	return nil
}

func createTableIfMissing(model interface{}) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		if tx.Migrator().HasTable(model) {
			return nil
		}
		return tx.Migrator().CreateTable(model)
	}
}

// addMediaFormatColumns upgrades media tables that predate provenance and format metadata.
func addMediaFormatColumns(tx *gorm.DB) error {
	m := tx.Migrator()
	for _, field := range []string{"Source", "ContentType", "Width", "Height"} {
		if m.HasColumn(&domain.Media{}, field) {
			continue
		}
		if err := m.AddColumn(&domain.Media{}, field); err != nil {
			return fmt.Errorf("add media.%s: %w", field, err)
		}
	}
	return nil
}

func ensureIndexes(tx *gorm.DB) error {
	indexes := []struct {
		model interface{}
		name  string
	}{
		{&domain.Media{}, "idx_media_topic"},
		{&domain.Media{}, "idx_media_last_verified"},
		{&domain.Media{}, "idx_media_url"},
		{&domain.QueryLog{}, "idx_queries_topic"},
		{&domain.ExternalCacheEntry{}, "idx_external_cache_query"},
		{&domain.ExternalCacheEntry{}, "idx_external_cache_source"},
	}
	m := tx.Migrator()
	for _, idx := range indexes {
		if m.HasIndex(idx.model, idx.name) {
			continue
		}
		if err := m.CreateIndex(idx.model, idx.name); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
