package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"learnplan/internal/db"
	"learnplan/internal/logger"
)

// OpenDB returns a provisioned SQLite database private to t.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", filepath.Join(t.TempDir(), "learnplan.db"))
	if err != nil {
		t.Fatalf("db.Connect: %v", err)
	}
	if err := db.EnsureSchema(context.Background(), gdb, logger.Nop()); err != nil {
		t.Fatalf("db.EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// Clock hands out strictly increasing instants, one second apart.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
