// Package postgres provides a PostgreSQL store for bank configs, expenses and
// sync state.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
)

//go:embed 001_create_bankmail.sql
var migrationSQL string

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// DSN, when set, is used instead of the discrete fields.
	DSN string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// Store persists bankmail data in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ api.Store = (*Store)(nil)

// New connects to PostgreSQL and runs the migrations.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	connStr := cfg.DSN
	if connStr == "" {
		connStr = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
	return nil
}

const configColumns = `id, user_id, name, bank_name, from_patterns, subject_patterns, body_keywords,
	amount_labels, description_labels, is_active, created_at, updated_at`

// CreateConfig inserts cfg, assigning its ID and timestamps.
func (s *Store) CreateConfig(ctx context.Context, cfg *api.BankEmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bank_email_configs (
			id, user_id, name, bank_name, from_patterns, subject_patterns, body_keywords,
			amount_labels, description_labels, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`,
		cfg.ID, cfg.UserID, cfg.Name, cfg.BankName,
		nonNil(cfg.FromPatterns), nonNil(cfg.SubjectPatterns), nonNil(cfg.BodyKeywords),
		nonNil(cfg.AmountLabels), nonNil(cfg.DescriptionLabels), cfg.IsActive,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if isUniqueViolation(err) {
		return api.ErrConfigNameTaken
	}
	if err != nil {
		return fmt.Errorf("inserting config: %w", err)
	}
	return nil
}

// GetConfig returns the user's config with id.
func (s *Store) GetConfig(ctx context.Context, userID, id string) (*api.BankEmailConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM bank_email_configs WHERE user_id = $1 AND id = $2`, userID, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, api.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	return &cfg, nil
}

// ListConfigs returns the user's configs in creation order.
func (s *Store) ListConfigs(ctx context.Context, userID string) ([]api.BankEmailConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM bank_email_configs WHERE user_id = $1 ORDER BY created_at, seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying configs: %w", err)
	}
	defer rows.Close()

	var out []api.BankEmailConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating configs: %w", err)
	}
	return out, nil
}

// UpdateConfig replaces a stored config, keeping its creation time.
func (s *Store) UpdateConfig(ctx context.Context, cfg *api.BankEmailConfig) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE bank_email_configs SET
			name = $3, bank_name = $4, from_patterns = $5, subject_patterns = $6,
			body_keywords = $7, amount_labels = $8, description_labels = $9,
			is_active = $10, updated_at = NOW()
		WHERE user_id = $1 AND id = $2
		RETURNING created_at, updated_at
	`,
		cfg.UserID, cfg.ID, cfg.Name, cfg.BankName,
		nonNil(cfg.FromPatterns), nonNil(cfg.SubjectPatterns), nonNil(cfg.BodyKeywords),
		nonNil(cfg.AmountLabels), nonNil(cfg.DescriptionLabels), cfg.IsActive,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return api.ErrConfigNotFound
	case isUniqueViolation(err):
		return api.ErrConfigNameTaken
	case err != nil:
		return fmt.Errorf("updating config: %w", err)
	}
	return nil
}

// DeleteConfig removes the user's config with id.
func (s *Store) DeleteConfig(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bank_email_configs WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return api.ErrConfigNotFound
	}
	return nil
}

// ListUsers returns every user owning a config, sorted.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM bank_email_configs ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting users: %w", err)
	}
	return users, nil
}

const expenseColumns = `id, user_id, amount::text, description, bank_name, transaction_type, category,
	date, source, message_id, config_id, created_at`

// ListExpenses returns the user's expenses dated in [from, to), oldest first.
func (s *Store) ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]api.Expense, error) {
	return listExpenses(ctx, s.pool, userID, from, to)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listExpenses(ctx context.Context, q querier, userID string, from, to time.Time) ([]api.Expense, error) {
	rows, err := q.Query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, created_at
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var out []api.Expense
	for rows.Next() {
		var (
			e      api.Expense
			amount string
			typ    string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &e.Description, &e.BankName, &typ, &e.Category,
			&e.Date, &e.Source, &e.MessageID, &e.ConfigID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount of expense %s: %w", e.ID, err)
		}
		e.TransactionType = api.TransactionType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w", err)
	}
	return out, nil
}

// InsertIfNotDuplicate inserts e unless check flags it against the user's
// expenses within a day of it. Writers of the same user are serialized with a
// transaction-scoped advisory lock.
func (s *Store) InsertIfNotDuplicate(ctx context.Context, e *api.Expense, check api.DuplicateCheck) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.UserID); err != nil {
		return fmt.Errorf("acquiring user lock: %w", err)
	}

	if check != nil {
		existing, err := listExpenses(ctx, tx, e.UserID, e.Date.Add(-24*time.Hour), e.Date.Add(24*time.Hour))
		if err != nil {
			return err
		}
		if check(*e, existing) {
			return api.ErrPersistenceConflict
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO expenses (
			id, user_id, amount, description, bank_name, transaction_type, category,
			date, source, message_id, config_id, created_at
		) VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		e.ID, e.UserID, e.Amount.String(), e.Description, e.BankName, string(e.TransactionType), e.Category,
		e.Date, e.Source, e.MessageID, e.ConfigID, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LastSync returns the zero time when the user never synced.
func (s *Store) LastSync(ctx context.Context, userID string) (time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_sync_at FROM sync_state WHERE user_id = $1`, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last sync: %w", err)
	}
	return at, nil
}

// SetLastSync records the user's last completed sync.
func (s *Store) SetLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (user_id, last_sync_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at
	`, userID, at)
	if err != nil {
		return fmt.Errorf("upserting last sync: %w", err)
	}
	return nil
}

func scanConfig(row pgx.Row) (api.BankEmailConfig, error) {
	var c api.BankEmailConfig
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.BankName, &c.FromPatterns, &c.SubjectPatterns,
		&c.BodyKeywords, &c.AmountLabels, &c.DescriptionLabels, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
