package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/bankmail/pkg/api"
)

const sampleEML = "From: VPBank <vpbankonline@vpb.com.vn>\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Transaction alert\r\n" +
	"Date: Sat, 14 Mar 2026 09:30:00 +0700\r\n" +
	"Message-ID: <m1@vpb.com.vn>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Số tiền: 150.000 VND. Nội dung: Thanh toán điện\r\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func memoryEnv(t *testing.T) {
	t.Setenv("BANKMAIL_STORE", "memory")
	t.Setenv("BANKMAIL_SOURCE", "mbox")
	t.Setenv("BANKMAIL_TIMEZONE", "UTC")
}

func TestTestCommand(t *testing.T) {
	t.Setenv("BANKMAIL_RULES_FILE", "")
	eml := writeFile(t, "sample.eml", sampleEML)

	t.Run("matching config", func(t *testing.T) {
		cfg := writeFile(t, "vpbank.json", `{
			"name": "VPBank",
			"bankName": "VPBank",
			"fromPatterns": ["vpbankonline@vpb.com.vn"],
			"amountLabels": ["Số tiền"]
		}`)

		out, err := execute(t, "test", "--config", cfg, "--email", eml)
		require.NoError(t, err)

		var res struct {
			Matches     bool `json:"matches"`
			Transaction *struct {
				BankName        string `json:"bankName"`
				TransactionType string `json:"transactionType"`
			} `json:"transaction"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res), out)
		assert.True(t, res.Matches)
		require.NotNil(t, res.Transaction)
		assert.Equal(t, "VPBank", res.Transaction.BankName)
		assert.Equal(t, "debit", res.Transaction.TransactionType)
	})

	t.Run("other sender", func(t *testing.T) {
		cfg := writeFile(t, "tcb.json", `{"bankName": "Techcombank", "fromPatterns": ["techcombank.com.vn"]}`)

		out, err := execute(t, "test", "--config", cfg, "--email", eml)
		require.NoError(t, err)
		assert.Contains(t, out, `"matches": false`)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := writeFile(t, "bad.json", `{"bankName": "VPBank", "fromPatterns": [" "]}`)

		_, err := execute(t, "test", "--config", cfg, "--email", eml)
		assert.Error(t, err)
	})

	t.Run("missing flags", func(t *testing.T) {
		_, err := execute(t, "test", "--email", eml)
		assert.Error(t, err)
	})
}

func TestExportCommand(t *testing.T) {
	memoryEnv(t)

	t.Run("empty json to stdout", func(t *testing.T) {
		out, err := execute(t, "export", "--user", "alice", "--month", "2026-03", "--format", "json")
		require.NoError(t, err)
		assert.JSONEq(t, "[]", out)
	})

	t.Run("csv to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "march.csv")
		_, err := execute(t, "export", "--user", "alice", "--month", "2026-03", "--out", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Date,Bank,Description,Amount,Type,Category,Source,MessageID\n", string(data))
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := execute(t, "export", "--user", "alice", "--format", "xlsx")
		assert.Error(t, err)
	})

	t.Run("bad month", func(t *testing.T) {
		_, err := execute(t, "export", "--user", "alice", "--month", "March")
		assert.Error(t, err)
	})
}

func TestSyncCommand_Mbox(t *testing.T) {
	memoryEnv(t)
	// A directory without alice.mbox yields no emails.
	mbox := t.TempDir()

	out, err := execute(t, "sync", "--user", "alice", "--month", "2026-03", "--mbox", mbox)
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2026-03 for alice")
	assert.Contains(t, out, "Expenses added:  0")
}

func TestStatusCommand(t *testing.T) {
	memoryEnv(t)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Bankmail Status ===")
	assert.Contains(t, out, "Store (memory): ✓ reachable, 0 users with configs")
	assert.Contains(t, out, "All checks passed.")
}

func TestDumpEmails(t *testing.T) {
	dir := t.TempDir()
	emails := []api.EmailMessage{
		{
			ID:         "m1",
			From:       "VPBank <vpbankonline@vpb.com.vn>",
			Subject:    "Thông báo: giao dịch?",
			Body:       "Số tiền: 150.000 VND",
			ReceivedAt: time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC),
		},
	}

	n, err := dumpEmails(dir, emails)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	path := filepath.Join(dir, "2026-03-14_023000_m1_Thông_báo_giao_dịch.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got api.EmailMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, emails[0], got)

	n, err = dumpEmails(dir, emails)
	require.NoError(t, err)
	assert.Zero(t, n, "existing files are kept")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "a/b\\c", want: "a_b_c"},
		{in: "__x  y__", want: "x_y"},
		{in: `re: "hi"?`, want: "re_hi"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
