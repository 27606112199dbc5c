package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

func (s *Server) handleListSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := registry.Query{
			Mode: r.URL.Query().Get("mode"),
			Type: sources.Type(r.URL.Query().Get("type")),
			Tag:  r.URL.Query().Get("tag"),
		}
		if q.Mode != "" && !s.app.Registry.HasMode(q.Mode) {
			respondError(w, http.StatusNotFound, "unknown mode")
			return
		}
		found := s.app.Registry.Find(q)
		if found == nil {
			found = []sources.Source{}
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"version": s.app.Registry.Version(),
			"count":   len(found),
			"sources": found,
		})
	}
}

func (s *Server) handleSourceHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		history, err := s.app.Store.History(r.Context(), limit)
		if err != nil {
			s.logger.Error("list catalog history", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list catalog history")
			return
		}
		respondJSON(w, http.StatusOK, history)
	}
}

// handleSourceDiff compares a stored snapshot with the live catalog.
func (s *Server) handleSourceDiff() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "id must be an integer")
			return
		}
		old, err := s.app.Store.Snapshot(r.Context(), id)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		d := registry.Diff(old, s.app.Registry.Snapshot())
		respondJSON(w, http.StatusOK, map[string]any{
			"from_version": old.Version,
			"to_version":   s.app.Registry.Version(),
			"summary":      d.Summary(),
			"diff":         d,
		})
	}
}

func (s *Server) handleRefreshSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.Registry.Refresh(r.Context()); err != nil {
			s.logger.Error("refresh source catalog", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to refresh sources")
			return
		}
		s.logger.Info("source catalog refreshed via API", "by", subject(r))
		respondJSON(w, http.StatusOK, map[string]string{"version": s.app.Registry.Version()})
	}
}

func (s *Server) handleAddSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.PathValue("mode")
		var src sources.Source
		if err := decodeJSON(w, r, &src); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.app.Registry.AddSource(r.Context(), mode, src); err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		s.logger.Info("source added", "mode", mode, "name", src.Name, "by", subject(r))
		respondJSON(w, http.StatusCreated, map[string]any{"mode": mode, "count": len(s.app.Registry.SourcesForMode(mode))})
	}
}

func (s *Server) handleRemoveSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.PathValue("mode")
		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "index must be an integer")
			return
		}
		if err := s.app.Registry.RemoveSource(r.Context(), mode, index); err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		s.logger.Info("source removed", "mode", mode, "index", index, "by", subject(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleImportSources accepts a workbook either as a multipart "file" field
// or as the raw request body.
func (s *Server) handleImportSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var in io.Reader = r.Body
		if file, _, err := r.FormFile("file"); err == nil {
			defer file.Close()
			in = file
		} else if !errors.Is(err, http.ErrNotMultipart) {
			respondError(w, http.StatusBadRequest, "invalid upload")
			return
		}

		report, err := s.app.Registry.ImportXLSX(r.Context(), in)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
			respondJSON(w, status, map[string]any{"error": err.Error(), "report": report})
			return
		}
		s.logger.Info("sources imported", "added", report.Added, "by", subject(r))
		respondJSON(w, http.StatusOK, report)
	}
}
