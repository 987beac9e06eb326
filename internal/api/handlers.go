package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/contentguard/internal/api/middleware"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/scan"
	"github.com/sydlexius/contentguard/internal/version"
)

const defaultJobLimit = 20

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// ownedContent loads the content named by the {id} path value and checks it
// belongs to the caller. Content owned by someone else is reported as not
// found. It writes the error response and returns nil on failure.
func (r *Router) ownedContent(w http.ResponseWriter, req *http.Request, id string) *content.ProtectedContent {
	userID := middleware.UserID(req.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.UserIDHeader+" header")
		return nil
	}
	c, err := r.contents.GetByID(req.Context(), id)
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, http.StatusNotFound, "content not found")
		return nil
	}
	if err != nil {
		r.logger.Error("loading content", slog.String("content_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if c.OwnerID != userID {
		writeError(w, http.StatusNotFound, "content not found")
		return nil
	}
	return c
}

func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}

	created, err := r.scanner.RunScan(req.Context(), c.ID)
	if err != nil {
		if errors.Is(err, scan.ErrContentNotFound) {
			writeError(w, http.StatusNotFound, "content not found")
			return
		}
		body := map[string]any{"error": "scan failed"}
		var failed *scan.FailedError
		if errors.As(err, &failed) {
			body["job_id"] = failed.JobID
		}
		r.logger.Error("scan failed", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"content_id":        c.ID,
		"new_infringements": created,
	})
}

func (r *Router) handleListInfringements(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}

	items, err := r.infringements.ListByContent(req.Context(), c.ID)
	if err != nil {
		r.logger.Error("listing infringements", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	counts, err := r.infringements.CountByStatus(req.Context(), c.ID)
	if err != nil {
		r.logger.Error("counting infringements", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []infringement.Infringement{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"content_id":    c.ID,
		"infringements": items,
		"counts":        counts,
		"total":         len(items),
	})
}

func (r *Router) handleListJobs(w http.ResponseWriter, req *http.Request) {
	c := r.ownedContent(w, req, req.PathValue("id"))
	if c == nil {
		return
	}

	limit := defaultJobLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	jobs, err := r.jobs.ListByContent(req.Context(), c.ID, limit)
	if err != nil {
		r.logger.Error("listing scan jobs", slog.String("content_id", c.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if jobs == nil {
		jobs = []scan.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (r *Router) handleUpdateInfringement(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	next := infringement.Status(body.Status)
	if !next.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	inf, err := r.infringements.GetByID(req.Context(), req.PathValue("id"))
	if errors.Is(err, infringement.ErrNotFound) {
		writeError(w, http.StatusNotFound, "infringement not found")
		return
	}
	if err != nil {
		r.logger.Error("loading infringement", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if r.ownedContent(w, req, inf.ContentID) == nil {
		return
	}

	if err := r.infringements.UpdateStatus(req.Context(), inf.ID, next); err != nil {
		if errors.Is(err, infringement.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		r.logger.Error("updating infringement status", slog.String("infringement_id", inf.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := r.infringements.GetByID(req.Context(), inf.ID)
	if err != nil {
		r.logger.Error("reloading infringement", slog.String("infringement_id", inf.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.cache.Stats(req.Context())
	if err != nil {
		r.logger.Error("reading cache stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleCacheSweep(w http.ResponseWriter, req *http.Request) {
	res, err := r.cache.SweepExpired(req.Context())
	if err != nil {
		r.logger.Error("sweeping cache", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleCacheInvalidate(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("contentId")
	n, err := r.cache.Invalidate(req.Context(), id)
	if err != nil {
		r.logger.Error("invalidating cache", slog.String("content_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content_id": id, "deleted": n})
}

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		writeError(w, http.StatusServiceUnavailable, "maintenance service not available")
		return
	}

	status, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.logger.Error("getting maintenance status", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	if r.maintenance == nil {
		writeError(w, http.StatusServiceUnavailable, "maintenance service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 60*time.Second)
	defer cancel()

	if err := r.maintenance.Optimize(ctx); err != nil {
		r.logger.Error("optimize failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "optimize failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "optimized"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
