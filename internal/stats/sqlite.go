package stats

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/devrev/softmatch/internal/model"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteRecorder stores completions in a local SQLite file
type SQLiteRecorder struct {
	db       *sql.DB
	schedule Schedule
	logger   *zap.Logger
}

// OpenSQLite opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string, schedule Schedule, logger *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteRecorder{db: db, schedule: schedule, logger: logger}, nil
}

// Close closes the database
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

// Ping checks the database connection
func (r *SQLiteRecorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RecordCompletion writes the group and its player slots in one transaction
func (r *SQLiteRecorder) RecordCompletion(ctx context.Context, record model.CompletionRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO completed_groups (session_id, tenant_id, achieved_level, range_min, range_max, week_number, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.SessionID,
		record.TenantID,
		record.AchievedLevel,
		record.CommonRange.Min,
		record.CommonRange.Max,
		r.schedule.WeekNumber(record.CompletedAt),
		record.CompletedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert completed group: %w", err)
	}

	groupID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read group id: %w", err)
	}

	for _, row := range Rows(record) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_participants (group_id, participant_id, display_name, role, synthetic)
			VALUES (?, ?, ?, ?, ?)
		`, groupID, row.ParticipantID, row.DisplayName, nullableRole(row.Role), row.Synthetic); err != nil {
			return 0, fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit completion: %w", err)
	}

	r.logger.Debug("Completion recorded",
		zap.Int64("record_id", groupID),
		zap.Int64("tenant_id", record.TenantID),
		zap.String("session_id", record.SessionID))

	return groupID, nil
}

// WeeklySummary aggregates one tenant's completions for a week
func (r *SQLiteRecorder) WeeklySummary(ctx context.Context, tenantID int64, week int) (Summary, error) {
	summary := Summary{TenantID: tenantID, Week: week, RoleBreakdown: make(map[model.Role]int)}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(achieved_level), 0)
		FROM completed_groups
		WHERE tenant_id = ? AND week_number = ?
	`, tenantID, week).Scan(&summary.Completions, &summary.HighestLevel)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query completions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(gp.role, ''), COUNT(*)
		FROM group_participants gp
		JOIN completed_groups cg ON cg.id = gp.group_id
		WHERE cg.tenant_id = ? AND cg.week_number = ?
		GROUP BY gp.role
	`, tenantID, week)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role  string
			count int
		)
		if err := rows.Scan(&role, &count); err != nil {
			return Summary{}, fmt.Errorf("failed to scan participant row: %w", err)
		}
		summary.Participants += count
		if role != "" {
			summary.RoleBreakdown[model.Role(role)] = count
		}
	}
	return summary, rows.Err()
}

func nullableRole(role model.Role) interface{} {
	if role == "" {
		return nil
	}
	return string(role)
}
