package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/dedup"
	"github.com/ArionMiles/bankmail/pkg/extract"
	"github.com/ArionMiles/bankmail/pkg/store/memory"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

type fakeSource struct {
	mu     sync.Mutex
	emails []api.EmailMessage
	err    error
}

func (f *fakeSource) Fetch(context.Context, string, api.Period) ([]api.EmailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emails, f.err
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	source  *fakeSource
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	rules, err := extract.DefaultRules()
	require.NoError(t, err)
	engine, err := extract.NewEngine(rules)
	require.NoError(t, err)

	ts := &testServer{
		store:  memory.New(),
		source: &fakeSource{},
		now:    time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return ts.now }

	orch, err := syncer.New(syncer.Deps{
		Engine:   engine,
		Dedup:    dedup.New(time.UTC),
		Source:   ts.source,
		Configs:  ts.store,
		Expenses: ts.store,
		State:    ts.store,
	}, syncer.Options{Attempts: 1, RetryDelay: time.Millisecond, Now: now})
	require.NoError(t, err)

	srv := NewServer(Config{Now: now}, Deps{
		Configs:  ts.store,
		Expenses: ts.store,
		Engine:   engine,
		Syncer:   orch,
	}, nil)
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func vpbankRequest() map[string]any {
	return map[string]any{
		"name":         "VPBank",
		"bankName":     " VPBank ",
		"fromPatterns": []string{"vpbankonline@vpb.com.vn", "  "},
		"amountLabels": []string{"Số tiền"},
	}
}

func (ts *testServer) createVPBank(t *testing.T, user string) api.BankEmailConfig {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/bank-email-configs", user, vpbankRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.BankEmailConfig](t, rec)
}

func bankEmail(id string, day int) map[string]any {
	return map[string]any{
		"id":         id,
		"from":       "VPBank <vpbankonline@vpb.com.vn>",
		"subject":    "Thông báo giao dịch",
		"body":       "Số tiền: 150.000 VND. Nội dung: Thanh toán điện",
		"receivedAt": time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/bank-email-configs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthorized, decode[APIError](t, rec).Code)
}

func TestConfigCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/bank-email-configs", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	created := ts.createVPBank(t, "u1")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "VPBank", created.BankName)
	assert.Equal(t, []string{"vpbankonline@vpb.com.vn"}, created.FromPatterns)
	assert.True(t, created.IsActive)

	rec = ts.do(t, http.MethodPost, "/api/bank-email-configs", "u1", vpbankRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/bank-email-configs", "u1", map[string]any{"bankName": "ACB", "fromPatterns": []string{" "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, decode[APIError](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/bank-email-configs", "u1", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/bank-email-configs/"+created.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "configs are scoped to their owner")

	update := vpbankRequest()
	update["subjectPatterns"] = []string{"Biến động số dư"}
	update["isActive"] = false
	rec = ts.do(t, http.MethodPut, "/api/bank-email-configs/"+created.ID, "u1", update)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[api.BankEmailConfig](t, rec)
	assert.Equal(t, []string{"Biến động số dư"}, updated.SubjectPatterns)
	assert.False(t, updated.IsActive)

	rec = ts.do(t, http.MethodGet, "/api/bank-email-configs/"+created.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.BankEmailConfig](t, rec).IsActive)

	rec = ts.do(t, http.MethodDelete, "/api/bank-email-configs/"+created.ID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/bank-email-configs/"+created.ID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestConfig(t *testing.T) {
	ts := newTestServer(t)
	cfg := ts.createVPBank(t, "u1")

	t.Run("extracts the transaction", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/bank-email-configs/test", "u1", map[string]any{
			"configId": cfg.ID,
			"testEmail": map[string]string{
				"from":    "VPBank <vpbankonline@vpb.com.vn>",
				"subject": "Thông báo giao dịch",
				"body":    "Số tiền: 150.000 VND. Nội dung: Thanh toán điện",
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[map[string]any](t, rec)
		assert.Equal(t, true, res["matches"])
		tx, ok := res["transaction"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(150000), tx["amount"])
		assert.Equal(t, "debit", tx["transactionType"])
		assert.Equal(t, "VPBank", tx["bankName"])
	})

	t.Run("unrelated sender", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/bank-email-configs/test", "u1", map[string]any{
			"configId":  cfg.ID,
			"testEmail": map[string]string{"from": "news@shop.example", "subject": "Sale", "body": "50% off"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[testResponse](t, rec)
		assert.False(t, res.Matches)
		assert.Contains(t, res.Message, "no sender pattern matched")
		assert.Nil(t, res.Transaction)
	})

	t.Run("missing config id", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/bank-email-configs/test", "u1", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown config", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/bank-email-configs/test", "u1", map[string]any{"configId": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSync_SuppliedEmails(t *testing.T) {
	ts := newTestServer(t)
	ts.createVPBank(t, "u1")

	rec := ts.do(t, http.MethodGet, "/api/sync/status", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lastSync":null}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/sync", "u1", map[string]any{
		"month":  "2026-03",
		"emails": []any{bankEmail("m1", 3), bankEmail("m2", 3)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[api.SyncSummary](t, rec)
	assert.Equal(t, 2, summary.EmailsChecked)
	assert.Equal(t, 1, summary.NewExpensesAdded)
	assert.Equal(t, 1, summary.Skipped)

	rec = ts.do(t, http.MethodGet, "/api/expenses?month=2026-03", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]any](t, rec)
	assert.Equal(t, "2026-03", list["month"])
	expenses, ok := list["expenses"].([]any)
	require.True(t, ok)
	require.Len(t, expenses, 1)
	assert.Equal(t, float64(150000), expenses[0].(map[string]any)["amount"])
	assert.Equal(t, map[string]any{"debit": float64(150000)}, list["totals"])

	rec = ts.do(t, http.MethodGet, "/api/expenses?month=2026-02", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[expenseListResponse](t, rec).Expenses)

	rec = ts.do(t, http.MethodGet, "/api/sync/status", "u1", nil)
	status := decode[statusResponse](t, rec)
	require.NotNil(t, status.LastSync)
	assert.True(t, ts.now.Equal(*status.LastSync))
}

func TestSync_BadMonth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/sync", "/api/sync/auto"} {
		rec := ts.do(t, http.MethodPost, path, "u1", map[string]any{"month": "March"})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec := ts.do(t, http.MethodGet, "/api/expenses?month=2026-13", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync_SourceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.createVPBank(t, "u1")
	ts.source.err = errors.New("imap timeout")

	rec := ts.do(t, http.MethodPost, "/api/sync", "u1", map[string]any{"month": "2026-03"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeUnavailable, decode[APIError](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/sync/auto", "u1", map[string]any{"month": "2026-03"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "imap timeout")
	res := decode[autoSyncResponse](t, rec)
	assert.False(t, res.Synced)
	assert.Equal(t, autoSyncFailedMessage, res.Message)
}

func TestAutoSync_Cooldown(t *testing.T) {
	ts := newTestServer(t)
	ts.createVPBank(t, "u1")
	ts.source.emails = []api.EmailMessage{{
		ID:         "m1",
		From:       "VPBank <vpbankonline@vpb.com.vn>",
		Subject:    "Thông báo giao dịch",
		Body:       "Số tiền: 150.000 VND",
		ReceivedAt: time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC),
	}}

	rec := ts.do(t, http.MethodPost, "/api/sync/auto", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[autoSyncResponse](t, rec)
	assert.True(t, first.Synced)
	require.NotNil(t, first.Summary)
	assert.Equal(t, 1, first.Summary.NewExpensesAdded)

	ts.now = ts.now.Add(time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/sync/auto", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[autoSyncResponse](t, rec)
	assert.False(t, second.Synced)
	assert.Equal(t, "Recently synced, skipping", second.Message)

	rec = ts.do(t, http.MethodPost, "/api/sync", "u1", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, "manual sync bypasses the cooldown")
	assert.Equal(t, 0, decode[api.SyncSummary](t, rec).NewExpensesAdded)
}
