package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/dedup"
)

// TestNew_ConnectionFailure tests that the store returns an error when connection fails.
func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:     "nonexistent-host",
		Port:     5432,
		Database: "bankmail",
		User:     "bankmail",
		Password: "password",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := New(ctx, cfg, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	assert.Error(t, err)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bankmail"),
		tcpostgres.WithUsername("bankmail"),
		tcpostgres.WithPassword("bankmail"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(ctx, Config{DSN: dsn}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Integration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("config CRUD", func(t *testing.T) {
		first := &api.BankEmailConfig{
			UserID:       "u1",
			Name:         "VPBank",
			BankName:     "VPBank",
			FromPatterns: []string{"vpbankonline@vpb.com.vn"},
			AmountLabels: []string{"Số tiền"},
			IsActive:     true,
		}
		require.NoError(t, store.CreateConfig(ctx, first))
		assert.NotEmpty(t, first.ID)
		assert.False(t, first.CreatedAt.IsZero())

		second := &api.BankEmailConfig{UserID: "u1", Name: "TCB", BankName: "Techcombank", FromPatterns: []string{"techcombank"}}
		require.NoError(t, store.CreateConfig(ctx, second))

		taken := &api.BankEmailConfig{UserID: "u1", Name: "VPBank", BankName: "VPBank", FromPatterns: []string{"x"}}
		assert.True(t, errors.Is(store.CreateConfig(ctx, taken), api.ErrConfigNameTaken))

		list, err := store.ListConfigs(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, []string{"Số tiền"}, list[0].AmountLabels)
		assert.Empty(t, list[0].SubjectPatterns)

		second.IsActive = true
		second.BodyKeywords = []string{"ghi có"}
		require.NoError(t, store.UpdateConfig(ctx, second))
		got, err := store.GetConfig(ctx, "u1", second.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.Equal(t, []string{"ghi có"}, got.BodyKeywords)

		_, err = store.GetConfig(ctx, "someone-else", second.ID)
		assert.True(t, errors.Is(err, api.ErrConfigNotFound))

		users, err := store.ListUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, users)

		require.NoError(t, store.DeleteConfig(ctx, "u1", second.ID))
		assert.True(t, errors.Is(store.DeleteConfig(ctx, "u1", second.ID), api.ErrConfigNotFound))
	})

	t.Run("expenses keep exact amounts", func(t *testing.T) {
		day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		e := &api.Expense{
			UserID:          "u-amount",
			Amount:          decimal.RequireFromString("1234567.89"),
			Description:     "Thanh toán điện",
			BankName:        "VPBank",
			TransactionType: api.TypeDebit,
			Category:        "utilities",
			Date:            day,
			Source:          api.SourceEmail,
		}
		require.NoError(t, store.InsertIfNotDuplicate(ctx, e, nil))

		list, err := store.ListExpenses(ctx, "u-amount", day.Add(-time.Hour), day.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, e.Amount.Equal(list[0].Amount))
		assert.Equal(t, api.TypeDebit, list[0].TransactionType)
	})

	t.Run("concurrent duplicate inserts", func(t *testing.T) {
		policy := dedup.New(time.UTC)
		day := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.InsertIfNotDuplicate(ctx, &api.Expense{
					UserID:   "u-race",
					Amount:   decimal.NewFromInt(150000),
					BankName: "VPBank",
					Date:     day,
					Source:   api.SourceEmail,
				}, policy.Check())
			}()
		}
		wg.Wait()

		inserted, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, api.ErrPersistenceConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, inserted)
		assert.Equal(t, len(errs)-1, conflicts)
	})

	t.Run("last sync", func(t *testing.T) {
		last, err := store.LastSync(ctx, "u-sync")
		require.NoError(t, err)
		assert.True(t, last.IsZero())

		at := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.SetLastSync(ctx, "u-sync", at))
		require.NoError(t, store.SetLastSync(ctx, "u-sync", at.Add(time.Minute)))

		last, err = store.LastSync(ctx, "u-sync")
		require.NoError(t, err)
		assert.True(t, at.Add(time.Minute).Equal(last))
	})
}
