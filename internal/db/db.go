package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"learnplan/internal/activity"
	"learnplan/internal/assignment"
	"learnplan/internal/jobs"
	"learnplan/internal/logger"
	"learnplan/internal/plan"
	"learnplan/internal/preferences"
)

func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer at a time; avoids SQLITE_BUSY between pooled connections
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&plan.Row{},
		&assignment.UserPlan{},
		&activity.Row{},
		&jobs.Job{},
		&preferences.Row{},
	}
}

type index struct {
	name    string
	table   string
	columns []string
	where   string
	unique  bool
}

var indexes = []index{
	{name: "idx_user_plans_user", table: "user_plans", columns: []string{"user_id"}},
	{name: "idx_activity_user_time", table: "activity_events", columns: []string{"user_id", "occurred_at DESC", "activity_id DESC"}},
	{name: "idx_activity_user_action_time", table: "activity_events", columns: []string{"user_id", "action", "occurred_at DESC"}},
	{name: "idx_activity_user_plan", table: "activity_events", columns: []string{"user_id", "plan_id", "action"}},
	{name: "uq_jobs_pending_key", table: "jobs", columns: []string{"type", "dedupe_key"}, where: "status = 'PENDING'", unique: true},
	{name: "idx_jobs_due", table: "jobs", columns: []string{"status", "run_at"}},
}

// EnsureSchema creates whatever tables, columns and indexes are missing.
// It never touches rows and tolerates another process racing it.
func EnsureSchema(ctx context.Context, gdb *gorm.DB, log *logger.Logger) error {
	tx := gdb.WithContext(ctx)
	m := tx.Migrator()

	for _, model := range Models() {
		stmt := &gorm.Statement{DB: tx}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("parse model %T: %w", model, err)
		}
		table := stmt.Schema.Table

		if !m.HasTable(model) {
			if err := m.CreateTable(model); err != nil && !isAlreadyExists(err) {
				return fmt.Errorf("create table %s: %w", table, err)
			}
			log.Info("table created", "table", table)
			continue
		}
		for _, col := range stmt.Schema.DBNames {
			if m.HasColumn(model, col) {
				continue
			}
			if err := m.AddColumn(model, col); err != nil && !isAlreadyExists(err) {
				return fmt.Errorf("add column %s.%s: %w", table, col, err)
			}
			log.Info("column added", "table", table, "column", col)
		}
	}

	for _, ix := range indexes {
		s := ix.sql()
		if err := tx.Exec(s).Error; err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

func (ix index) sql() string {
	cols := make([]string, 0, len(ix.columns))
	for _, c := range ix.columns {
		name, dir, _ := strings.Cut(c, " ")
		col := pq.QuoteIdentifier(name)
		if dir != "" {
			col += " " + dir
		}
		cols = append(cols, col)
	}
	kind := "index"
	if ix.unique {
		kind = "unique index"
	}
	s := fmt.Sprintf("create %s if not exists %s on %s (%s)",
		kind, pq.QuoteIdentifier(ix.name), pq.QuoteIdentifier(ix.table), strings.Join(cols, ", "))
	if ix.where != "" {
		s += " where " + ix.where
	}
	return s
}

// isAlreadyExists reports a create-if-absent race lost to another process.
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P07", "42710", "23505":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
