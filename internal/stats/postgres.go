package stats

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/devrev/softmatch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresRecorder stores completions in PostgreSQL
type PostgresRecorder struct {
	pool     *pgxpool.Pool
	schedule Schedule
	logger   *zap.Logger
}

// PostgresConfig holds connection settings
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int
}

// NewPostgresRecorder connects, pings and applies the schema
func NewPostgresRecorder(ctx context.Context, cfg PostgresConfig, schedule Schedule, logger *zap.Logger) (*PostgresRecorder, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConns, cfg.MinConns,
	)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresRecorder{pool: pool, schedule: schedule, logger: logger}, nil
}

// Close releases the pool
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RecordCompletion writes the group and its player slots in one transaction
func (r *PostgresRecorder) RecordCompletion(ctx context.Context, record model.CompletionRecord) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var groupID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO completed_groups (session_id, tenant_id, achieved_level, range_min, range_max, week_number, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		record.SessionID,
		record.TenantID,
		record.AchievedLevel,
		record.CommonRange.Min,
		record.CommonRange.Max,
		r.schedule.WeekNumber(record.CompletedAt),
		record.CompletedAt,
	).Scan(&groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert completed group: %w", err)
	}

	batch := &pgx.Batch{}
	for _, row := range Rows(record) {
		batch.Queue(`
			INSERT INTO group_participants (group_id, participant_id, display_name, role, synthetic)
			VALUES ($1, $2, $3, $4, $5)
		`, groupID, row.ParticipantID, row.DisplayName, nullableRole(row.Role), row.Synthetic)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("failed to insert participants: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit completion: %w", err)
	}

	r.logger.Debug("Completion recorded",
		zap.Int64("record_id", groupID),
		zap.Int64("tenant_id", record.TenantID),
		zap.String("session_id", record.SessionID))

	return groupID, nil
}

// WeeklySummary aggregates one tenant's completions for a week
func (r *PostgresRecorder) WeeklySummary(ctx context.Context, tenantID int64, week int) (Summary, error) {
	summary := Summary{TenantID: tenantID, Week: week, RoleBreakdown: make(map[model.Role]int)}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(achieved_level), 0)
		FROM completed_groups
		WHERE tenant_id = $1 AND week_number = $2
	`, tenantID, week).Scan(&summary.Completions, &summary.HighestLevel)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query completions: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(gp.role, ''), COUNT(*)
		FROM group_participants gp
		JOIN completed_groups cg ON cg.id = gp.group_id
		WHERE cg.tenant_id = $1 AND cg.week_number = $2
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
