package extract

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/bankmail/pkg/api"
)

func vpbankConfig() api.BankEmailConfig {
	return api.BankEmailConfig{
		ID:           "cfg-vpbank",
		Name:         "VPBank",
		BankName:     "VPBank",
		FromPatterns: []string{"vpbankonline@vpb.com.vn"},
		AmountLabels: []string{"Số tiền"},
		IsActive:     true,
	}
}

func vpbankEmail() api.EmailMessage {
	return api.EmailMessage{
		From:    "VPBank <vpbankonline@vpb.com.vn>",
		Subject: "Thông báo giao dịch",
		Body:    "Số tiền: 150.000 VND. Nội dung: Thanh toán điện",
	}
}

func TestMatch(t *testing.T) {
	inactive := vpbankConfig()
	inactive.ID = "cfg-inactive"
	inactive.IsActive = false

	subjectOnly := vpbankConfig()
	subjectOnly.ID = "cfg-subject"
	subjectOnly.SubjectPatterns = []string{"biến động số dư"}

	keyword := vpbankConfig()
	keyword.ID = "cfg-keyword"
	keyword.BodyKeywords = []string{"không có", "NỘI DUNG"}

	inSubject := vpbankConfig()
	inSubject.ID = "cfg-in-subject"
	inSubject.BodyKeywords = []string{"giao dịch"}

	other := api.BankEmailConfig{
		ID:           "cfg-tcb",
		Name:         "Techcombank",
		BankName:     "Techcombank",
		FromPatterns: []string{"alert@techcombank.com.vn"},
		IsActive:     true,
	}

	tests := []struct {
		name       string
		configs    []api.BankEmailConfig
		wantID     string
		wantReason string
	}{
		{"case-insensitive sender", []api.BankEmailConfig{other, vpbankConfig()}, "cfg-vpbank", ""},
		{"inactive skipped", []api.BankEmailConfig{inactive}, "", "no active configs"},
		{"no configs", nil, "", "no active configs"},
		{"unrelated sender", []api.BankEmailConfig{other}, "", "no sender pattern matched"},
		{"subject filter", []api.BankEmailConfig{subjectOnly}, "", "no subject pattern matched"},
		{"any body keyword", []api.BankEmailConfig{keyword}, "cfg-keyword", ""},
		{"body keyword in subject", []api.BankEmailConfig{inSubject}, "cfg-in-subject", ""},
		{"first in order wins", []api.BankEmailConfig{inactive, keyword, vpbankConfig()}, "cfg-keyword", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Match(vpbankEmail(), tc.configs)
			if tc.wantID == "" {
				assert.False(t, got.Matched)
				assert.Nil(t, got.Config)
				assert.Contains(t, got.Reason, tc.wantReason)
				return
			}
			require.True(t, got.Matched, got.Reason)
			assert.Equal(t, tc.wantID, got.Config.ID)
		})
	}
}

func TestMatch_BodyKeywordMissing(t *testing.T) {
	cfg := vpbankConfig()
	cfg.BodyKeywords = []string{"ghi có"}

	got := Match(vpbankEmail(), []api.BankEmailConfig{cfg})
	assert.False(t, got.Matched)
	assert.Equal(t, `no body keyword matched for config "VPBank"`, got.Reason)
}

func TestMatch_ClosestConfigReason(t *testing.T) {
	subject := vpbankConfig()
	subject.SubjectPatterns = []string{"sao kê"}
	other := api.BankEmailConfig{BankName: "ACB", FromPatterns: []string{"acb.com.vn"}, IsActive: true}

	got := Match(vpbankEmail(), []api.BankEmailConfig{other, subject})
	assert.False(t, got.Matched)
	assert.Contains(t, got.Reason, "no subject pattern matched")
}

func TestMatch_ConcurrentDeterminism(t *testing.T) {
	configs := make([]api.BankEmailConfig, 0, 20)
	for i := range 20 {
		cfg := vpbankConfig()
		cfg.ID = fmt.Sprintf("cfg-%02d", i)
		configs = append(configs, cfg)
	}

	var wg sync.WaitGroup
	results := make([]string, 64)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Match(vpbankEmail(), configs).Config.ID
		}()
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, "cfg-00", id)
	}
}

func TestMatchConfig_IgnoresActiveFlag(t *testing.T) {
	cfg := vpbankConfig()
	cfg.IsActive = false

	ok, _ := MatchConfig(vpbankEmail(), &cfg)
	assert.True(t, ok)
}
