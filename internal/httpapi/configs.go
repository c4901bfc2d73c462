package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ArionMiles/bankmail/pkg/api"
)

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.deps.Configs.ListConfigs(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if configs == nil {
		configs = []api.BankEmailConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Configs.GetConfig(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg := &api.BankEmailConfig{UserID: userFrom(r.Context()), IsActive: true}
	req.apply(cfg)
	cfg.Clean()
	if err := cfg.Validate(); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := s.deps.Configs.CreateConfig(r.Context(), cfg); err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.logger.Info("config created", "user_id", cfg.UserID, "config_id", cfg.ID, "bank", cfg.BankName)
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg, err := s.deps.Configs.GetConfig(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	req.apply(cfg)
	cfg.Clean()
	if err := cfg.Validate(); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := s.deps.Configs.UpdateConfig(r.Context(), cfg); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Configs.DeleteConfig(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testConfig runs one stored config against a sample email without persisting.
func (s *Server) testConfig(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConfigID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "configId is required")
		return
	}

	cfg, err := s.deps.Configs.GetConfig(r.Context(), userFrom(r.Context()), req.ConfigID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	res := s.deps.Engine.Test(*cfg, api.EmailMessage{
		From:       req.TestEmail.From,
		Subject:    req.TestEmail.Subject,
		Body:       req.TestEmail.Body,
		ReceivedAt: s.cfg.Now(),
	})
	writeJSON(w, http.StatusOK, newTestResponse(res))
}
