package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

// autoSyncFailedMessage is returned for any auto sync failure. Details stay in
// the server log.
const autoSyncFailedMessage = "Sync skipped: email source or storage unavailable"

// period resolves "YYYY-MM", or the current month when empty.
func (s *Server) period(month string) (api.Period, error) {
	if month == "" {
		return api.CurrentMonth(s.cfg.Now().In(s.cfg.Location)), nil
	}
	return api.MonthPeriod(month, s.cfg.Location)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	period, err := s.period(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "month must be YYYY-MM")
		return
	}

	sreq := syncer.Request{UserID: userFrom(r.Context()), Period: period, Mode: api.SyncManual}
	if req.Emails != nil {
		sreq.Emails = make([]api.EmailMessage, len(req.Emails))
		for i, e := range req.Emails {
			sreq.Emails[i] = api.EmailMessage{ID: e.ID, From: e.From, Subject: e.Subject, Body: e.Body, ReceivedAt: e.ReceivedAt}
		}
	}

	summary, err := s.deps.Syncer.Sync(r.Context(), sreq)
	switch {
	case errors.Is(err, api.ErrSourceUnavailable):
		s.logger.Warn("sync failed", "user_id", sreq.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "the email source is unavailable, try again later")
	case err != nil:
		s.writeStoreError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

// autoSync never reports failure to the caller; it is fired in the background
// by clients.
func (s *Server) autoSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	period, err := s.period(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "month must be YYYY-MM")
		return
	}

	userID := userFrom(r.Context())
	summary, err := s.deps.Syncer.Sync(r.Context(), syncer.Request{UserID: userID, Period: period, Mode: api.SyncAuto})
	switch {
	case err != nil:
		s.logger.Warn("auto sync failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusOK, autoSyncResponse{Message: autoSyncFailedMessage})
	case summary.State == api.SyncStateSkippedCooldown:
		writeJSON(w, http.StatusOK, autoSyncResponse{Message: "Recently synced, skipping"})
	default:
		writeJSON(w, http.StatusOK, autoSyncResponse{
			Synced:  true,
			Message: fmt.Sprintf("Checked %d emails, added %d new expenses", summary.EmailsChecked, summary.NewExpensesAdded),
			Summary: summary,
		})
	}
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	last, err := s.deps.Syncer.LastSync(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	var resp statusResponse
	if !last.IsZero() {
		resp.LastSync = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	period, err := s.period(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "month must be YYYY-MM")
		return
	}
	expenses, err := s.deps.Expenses.ListExpenses(r.Context(), userFrom(r.Context()), period.Start, period.End)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExpenseList(period.String(), expenses))
}
