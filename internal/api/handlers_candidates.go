package api

import (
	"net/http"

	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

type modeInfo struct {
	Mode    string `json:"mode"`
	Label   string `json:"label"`
	Sources int    `json:"sources"`
}

func (s *Server) handleModes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := s.app.Registry.All()
		out := make([]modeInfo, 0, len(all))
		for _, mode := range s.app.Registry.Modes() {
			out = append(out, modeInfo{Mode: mode, Label: all[mode].Label, Sources: len(all[mode].Sources)})
		}
		respondJSON(w, http.StatusOK, map[string]any{"version": s.app.Registry.Version(), "modes": out})
	}
}

type candidatesResponse struct {
	Mode       string              `json:"mode"`
	Count      int                 `json:"count"`
	Candidates []sources.Candidate `json:"candidates"`
	Warning    string              `json:"warning,omitempty"`
}

func (s *Server) handleCandidates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFrom(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		cands, err := s.app.Pipeline.FetchCandidates(r.Context(), q)
		resp := candidatesResponse{Mode: q.Mode, Count: len(cands), Candidates: cands}
		if err != nil {
			if len(cands) == 0 {
				respondError(w, statusFor(err), err.Error())
				return
			}
			resp.Warning = err.Error()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleCandidatesDebug() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFrom(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		run, err := s.app.Pipeline.FetchCandidatesDebug(r.Context(), q)
		if run == nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		// A rejected warehouse query is already listed in run.Errors.
		respondJSON(w, http.StatusOK, run)
	}
}

type rescoreRequest struct {
	Mode             string              `json:"mode"`
	ExpandedKeywords []string            `json:"expanded_keywords"`
	AllCandidates    []sources.Candidate `json:"all_candidates"`
	Limit            int                 `json:"limit"`
}

// handleRescore replays filter and score over a stored debug snapshot.
func (s *Server) handleRescore() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rescoreRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Mode == "" {
			respondError(w, http.StatusBadRequest, "mode is required")
			return
		}
		respondJSON(w, http.StatusOK, s.app.Pipeline.Rescore(req.AllCandidates, req.ExpandedKeywords, req.Mode, req.Limit))
	}
}
