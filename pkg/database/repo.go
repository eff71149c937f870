package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts multiple bug records into the database
func AddBugs(ctx context.Context, db *gorm.DB, bugs []*Bug) error {
	if len(bugs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(bugs).Error
}

func NewBug(session, poc, target, kind string) *Bug {
	return &Bug{
		TaskID:       session,
		CreatedAt:    time.Now(),
		Architecture: "x86_64",
		POC:          poc,
		HarnessName:  target,
		Sanitizer:    kind,
	}
}

// inserts a single seed record into the database
func AddSeed(ctx context.Context, db *gorm.DB, seed *Seed) error {
	if seed == nil {
		return nil
	}
	return db.WithContext(ctx).Create(seed).Error
}

func NewSeed(session, path, target string, fuzzer FuzzerTypeEnum, instance string, metric Metric) *Seed {
	return &Seed{
		TaskID:      session,
		CreatedAt:   time.Now(),
		Path:        path,
		HarnessName: target,
		Fuzzer:      fuzzer,
		Instance:    instance,
		Metric:      metric,
	}
}

func AddGeneration(ctx context.Context, db *gorm.DB, gen *Generation) error {
	if gen == nil {
		return nil
	}
	return db.WithContext(ctx).Create(gen).Error
}

// MigrateGenerations creates the generation table; seeds and bugs are owned by the platform schema.
func MigrateGenerations(db *gorm.DB) error {
	return db.AutoMigrate(&Generation{})
}
