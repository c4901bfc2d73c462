// Package sqlite provides a single-file SQLite store for bank configs, expenses
// and sync state.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// Store persists bankmail data in SQLite. Write transactions begin IMMEDIATE,
// so concurrent writers, even from other processes, are serialized.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ api.Store = (*Store)(nil)

// New opens (creating if needed) the database at path and runs migrations.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("opened SQLite database", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const configColumns = `id, user_id, name, bank_name, from_patterns, subject_patterns, body_keywords,
	amount_labels, description_labels, is_active, created_at, updated_at`

// CreateConfig inserts cfg, assigning its ID and timestamps.
func (s *Store) CreateConfig(ctx context.Context, cfg *api.BankEmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lists, err := encodeLists(cfg)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bank_email_configs (
			id, user_id, name, bank_name, from_patterns, subject_patterns, body_keywords,
			amount_labels, description_labels, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ID, cfg.UserID, cfg.Name, cfg.BankName,
		lists[0], lists[1], lists[2], lists[3], lists[4],
		cfg.IsActive, now.UnixNano(), now.UnixNano())
	if isUniqueViolation(err) {
		return api.ErrConfigNameTaken
	}
	if err != nil {
		return fmt.Errorf("inserting config: %w", err)
	}
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	return nil
}

// GetConfig returns the user's config with id.
func (s *Store) GetConfig(ctx context.Context, userID, id string) (*api.BankEmailConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM bank_email_configs WHERE user_id = ? AND id = ?`, userID, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	return &cfg, nil
}

// ListConfigs returns the user's configs in creation order.
func (s *Store) ListConfigs(ctx context.Context, userID string) ([]api.BankEmailConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM bank_email_configs WHERE user_id = ? ORDER BY created_at, seq`, userID)
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
	return out, rows.Err()
}

// UpdateConfig replaces a stored config, keeping its creation time.
func (s *Store) UpdateConfig(ctx context.Context, cfg *api.BankEmailConfig) error {
	lists, err := encodeLists(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bank_email_configs SET
			name = ?, bank_name = ?, from_patterns = ?, subject_patterns = ?, body_keywords = ?,
			amount_labels = ?, description_labels = ?, is_active = ?, updated_at = ?
		WHERE user_id = ? AND id = ?
	`, cfg.Name, cfg.BankName, lists[0], lists[1], lists[2], lists[3], lists[4],
		cfg.IsActive, now.UnixNano(), cfg.UserID, cfg.ID)
	if isUniqueViolation(err) {
		return api.ErrConfigNameTaken
	}
	if err != nil {
		return fmt.Errorf("updating config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.ErrConfigNotFound
	}

	stored, err := s.GetConfig(ctx, cfg.UserID, cfg.ID)
	if err != nil {
		return err
	}
	cfg.CreatedAt, cfg.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

// DeleteConfig removes the user's config with id.
func (s *Store) DeleteConfig(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bank_email_configs WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.ErrConfigNotFound
	}
	return nil
}

// ListUsers returns every user owning a config, sorted.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM bank_email_configs ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const expenseColumns = `id, user_id, amount, description, bank_name, transaction_type, category,
	date, source, message_id, config_id, created_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListExpenses returns the user's expenses dated in [from, to), oldest first.
func (s *Store) ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]api.Expense, error) {
	return listExpenses(ctx, s.db, userID, from, to)
}

func listExpenses(ctx context.Context, q queryer, userID string, from, to time.Time) ([]api.Expense, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date, created_at
	`, userID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var out []api.Expense
	for rows.Next() {
		var (
			e                 api.Expense
			amount, typ       string
			date, createdAtNs int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &amount, &e.Description, &e.BankName, &typ, &e.Category,
			&date, &e.Source, &e.MessageID, &e.ConfigID, &createdAtNs); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount of expense %s: %w", e.ID, err)
		}
		e.TransactionType = api.TransactionType(typ)
		e.Date = time.Unix(0, date).UTC()
		e.CreatedAt = time.Unix(0, createdAtNs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertIfNotDuplicate inserts e unless check flags it against the user's
// expenses within a day of it.
func (s *Store) InsertIfNotDuplicate(ctx context.Context, e *api.Expense, check api.DuplicateCheck) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

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
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (
			id, user_id, amount, description, bank_name, transaction_type, category,
			date, source, message_id, config_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.Amount.String(), e.Description, e.BankName, string(e.TransactionType), e.Category,
		e.Date.UnixNano(), e.Source, e.MessageID, e.ConfigID, e.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LastSync returns the zero time when the user never synced.
func (s *Store) LastSync(ctx context.Context, userID string) (time.Time, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_at FROM sync_state WHERE user_id = ?`, userID).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last sync: %w", err)
	}
	return time.Unix(0, ns).UTC(), nil
}

// SetLastSync records the user's last completed sync.
func (s *Store) SetLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, last_sync_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_sync_at = excluded.last_sync_at
	`, userID, at.UnixNano())
	if err != nil {
		return fmt.Errorf("upserting last sync: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (api.BankEmailConfig, error) {
	var (
		c                  api.BankEmailConfig
		lists              [5]string
		createdAt, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.BankName, &lists[0], &lists[1], &lists[2],
		&lists[3], &lists[4], &c.IsActive, &createdAt, &updated); err != nil {
		return c, err
	}
	targets := []*[]string{&c.FromPatterns, &c.SubjectPatterns, &c.BodyKeywords, &c.AmountLabels, &c.DescriptionLabels}
	for i, dst := range targets {
		if err := json.Unmarshal([]byte(lists[i]), dst); err != nil {
			return c, fmt.Errorf("decoding pattern list: %w", err)
		}
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return c, nil
}

func encodeLists(cfg *api.BankEmailConfig) ([5]string, error) {
	var out [5]string
	for i, list := range [][]string{cfg.FromPatterns, cfg.SubjectPatterns, cfg.BodyKeywords, cfg.AmountLabels, cfg.DescriptionLabels} {
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return out, fmt.Errorf("encoding pattern list: %w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
