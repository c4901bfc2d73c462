// Package memory provides an in-process api.Store. It backs tests and
// single-run CLI invocations where nothing needs to outlive the process.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	configs  []api.BankEmailConfig
	expenses map[string][]api.Expense
	lastSync map[string]time.Time
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		expenses: make(map[string][]api.Expense),
		lastSync: make(map[string]time.Time),
		now:      time.Now,
	}
}

var _ api.Store = (*Store)(nil)

// CreateConfig stores cfg, assigning its ID and timestamps.
func (s *Store) CreateConfig(_ context.Context, cfg *api.BankEmailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTaken(cfg.UserID, cfg.Name, "") {
		return api.ErrConfigNameTaken
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := s.now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	s.configs = append(s.configs, cloneConfig(*cfg))
	return nil
}

// GetConfig returns the user's config with id.
func (s *Store) GetConfig(_ context.Context, userID, id string) (*api.BankEmailConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(userID, id)
	if i < 0 {
		return nil, api.ErrConfigNotFound
	}
	cfg := cloneConfig(s.configs[i])
	return &cfg, nil
}

// ListConfigs returns the user's configs in creation order.
func (s *Store) ListConfigs(_ context.Context, userID string) ([]api.BankEmailConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []api.BankEmailConfig
	for _, cfg := range s.configs {
		if cfg.UserID == userID {
			out = append(out, cloneConfig(cfg))
		}
	}
	return out, nil
}

// UpdateConfig replaces a stored config, keeping its creation time.
func (s *Store) UpdateConfig(_ context.Context, cfg *api.BankEmailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(cfg.UserID, cfg.ID)
	if i < 0 {
		return api.ErrConfigNotFound
	}
	if s.nameTaken(cfg.UserID, cfg.Name, cfg.ID) {
		return api.ErrConfigNameTaken
	}
	cfg.CreatedAt = s.configs[i].CreatedAt
	cfg.UpdatedAt = s.now().UTC()
	s.configs[i] = cloneConfig(*cfg)
	return nil
}

// DeleteConfig removes the user's config with id.
func (s *Store) DeleteConfig(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(userID, id)
	if i < 0 {
		return api.ErrConfigNotFound
	}
	s.configs = slices.Delete(s.configs, i, i+1)
	return nil
}

// ListUsers returns every user owning a config, sorted.
func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var users []string
	for _, cfg := range s.configs {
		if _, ok := seen[cfg.UserID]; !ok {
			seen[cfg.UserID] = struct{}{}
			users = append(users, cfg.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// ListExpenses returns the user's expenses dated in [from, to), oldest first.
func (s *Store) ListExpenses(_ context.Context, userID string, from, to time.Time) ([]api.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []api.Expense
	for _, e := range s.expenses[userID] {
		if !e.Date.Before(from) && e.Date.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// InsertIfNotDuplicate inserts e unless check flags it against the user's
// stored expenses.
func (s *Store) InsertIfNotDuplicate(ctx context.Context, e *api.Expense, check api.DuplicateCheck) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.expenses[e.UserID]
	if check != nil && check(*e, existing) {
		return api.ErrPersistenceConflict
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.expenses[e.UserID] = append(existing, *e)
	return nil
}

// LastSync returns the zero time when the user never synced.
func (s *Store) LastSync(_ context.Context, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync[userID], nil
}

// SetLastSync records the user's last completed sync.
func (s *Store) SetLastSync(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[userID] = at
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) indexOf(userID, id string) int {
	for i, cfg := range s.configs {
		if cfg.UserID == userID && cfg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) nameTaken(userID, name, exceptID string) bool {
	if name == "" {
		return false
	}
	for _, cfg := range s.configs {
		if cfg.UserID == userID && cfg.Name == name && cfg.ID != exceptID {
			return true
		}
	}
	return false
}

func cloneConfig(c api.BankEmailConfig) api.BankEmailConfig {
	c.FromPatterns = slices.Clone(c.FromPatterns)
	c.SubjectPatterns = slices.Clone(c.SubjectPatterns)
	c.BodyKeywords = slices.Clone(c.BodyKeywords)
	c.AmountLabels = slices.Clone(c.AmountLabels)
	c.DescriptionLabels = slices.Clone(c.DescriptionLabels)
	return c
}
