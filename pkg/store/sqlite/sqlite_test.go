package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/dedup"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bankmail.db")
	store, err := New(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestMigrations_Idempotent(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Close())

	reopened, err := New(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	version, err := schemaVersion(reopened.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestStore_Configs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := &api.BankEmailConfig{
		UserID:       "u1",
		Name:         "VPBank",
		BankName:     "VPBank",
		FromPatterns: []string{"vpbankonline@vpb.com.vn"},
		AmountLabels: []string{"Số tiền"},
		IsActive:     true,
	}
	require.NoError(t, store.CreateConfig(ctx, first))
	second := &api.BankEmailConfig{UserID: "u1", Name: "TCB", BankName: "Techcombank", FromPatterns: []string{"techcombank"}}
	require.NoError(t, store.CreateConfig(ctx, second))

	unnamed := &api.BankEmailConfig{UserID: "u1", BankName: "ACB", FromPatterns: []string{"acb"}}
	require.NoError(t, store.CreateConfig(ctx, unnamed))
	unnamedToo := &api.BankEmailConfig{UserID: "u1", BankName: "MB", FromPatterns: []string{"mbbank"}}
	require.NoError(t, store.CreateConfig(ctx, unnamedToo))

	taken := &api.BankEmailConfig{UserID: "u1", Name: "TCB", BankName: "X", FromPatterns: []string{"x"}}
	assert.True(t, errors.Is(store.CreateConfig(ctx, taken), api.ErrConfigNameTaken))

	list, err := store.ListConfigs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, []string{first.ID, second.ID, unnamed.ID, unnamedToo.ID},
		[]string{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
	assert.Equal(t, []string{"Số tiền"}, list[0].AmountLabels)
	assert.Empty(t, list[0].BodyKeywords)
	assert.True(t, list[0].IsActive)
	assert.False(t, list[1].IsActive)

	second.Name = "VPBank"
	assert.True(t, errors.Is(store.UpdateConfig(ctx, second), api.ErrConfigNameTaken))

	second.Name = "Techcombank"
	second.SubjectPatterns = []string{"Biến động số dư"}
	require.NoError(t, store.UpdateConfig(ctx, second))
	got, err := store.GetConfig(ctx, "u1", second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Techcombank", got.Name)
	assert.Equal(t, []string{"Biến động số dư"}, got.SubjectPatterns)

	missing := &api.BankEmailConfig{UserID: "u1", ID: "nope", BankName: "X"}
	assert.True(t, errors.Is(store.UpdateConfig(ctx, missing), api.ErrConfigNotFound))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	require.NoError(t, store.DeleteConfig(ctx, "u1", first.ID))
	_, err = store.GetConfig(ctx, "u1", first.ID)
	assert.True(t, errors.Is(err, api.ErrConfigNotFound))
}

func TestStore_Expenses(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	policy := dedup.New(time.UTC)
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	e := &api.Expense{
		UserID:          "u1",
		Amount:          decimal.RequireFromString("1234.56"),
		Description:     "Thanh toán điện",
		BankName:        "VPBank",
		TransactionType: api.TypeDebit,
		Category:        "utilities",
		Date:            day,
		Source:          api.SourceEmail,
		MessageID:       "msg-1",
	}
	require.NoError(t, store.InsertIfNotDuplicate(ctx, e, policy.Check()))

	dup := *e
	dup.ID = ""
	dup.BankName = "vpbank"
	assert.True(t, errors.Is(store.InsertIfNotDuplicate(ctx, &dup, policy.Check()), api.ErrPersistenceConflict))

	list, err := store.ListExpenses(ctx, "u1", day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, e.Amount.Equal(list[0].Amount))
	assert.True(t, day.Equal(list[0].Date))
	assert.Equal(t, "msg-1", list[0].MessageID)
}

func TestStore_ConcurrentInserts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	policy := dedup.New(time.UTC)
	day := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.InsertIfNotDuplicate(ctx, &api.Expense{
				UserID:   "u1",
				Amount:   decimal.NewFromInt(150000),
				BankName: "VPBank",
				Date:     day,
			}, policy.Check())
		}()
	}
	wg.Wait()

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
			continue
		}
		assert.True(t, errors.Is(err, api.ErrPersistenceConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, inserted)
}

func TestStore_LastSync(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	last, err := store.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastSync(ctx, "u1", at))
	last, err = store.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, at.Equal(last))
}
