package api

import (
	"net/http"
	"strings"

	"github.com/RobinCoderZhao/aistats/internal/aistats/generator"
	"github.com/RobinCoderZhao/aistats/pkg/llm"
)

type expandRequest struct {
	Keywords []string `json:"keywords"`
}

func (s *Server) handleExpand() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expandRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		respondJSON(w, http.StatusOK, s.app.Expander.Expand(r.Context(), req.Keywords))
	}
}

func (s *Server) handleGenerate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generator.Request
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Mode == "" {
			respondError(w, http.StatusBadRequest, "mode is required")
			return
		}
		content, err := s.app.Generate(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				s.logger.Error("content generation failed", "mode", req.Mode, "error", err)
			}
			respondError(w, status, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, content)
	}
}

func (s *Server) handleLLMUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.app.Usage == nil {
			respondJSON(w, http.StatusOK, map[string]any{"configured": false, "models": []llm.UsageStats{}})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"configured": true,
			"models":     s.app.Usage.Stats(),
			"total":      s.app.Usage.Totals(),
		})
	}
}

type tokenRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

func (s *Server) handleIssueToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			respondError(w, http.StatusServiceUnavailable, "authentication is disabled")
			return
		}
		var req tokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Subject) == "" {
			respondError(w, http.StatusBadRequest, "subject is required")
			return
		}
		if req.Role == "" {
			req.Role = RoleReader
		}
		token, err := s.generateToken(req.Subject, req.Role)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}
